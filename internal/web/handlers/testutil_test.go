package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/photostacks/photostacks/internal/config"
	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/database/mock"
	"github.com/photostacks/photostacks/internal/embedding"
	"github.com/photostacks/photostacks/internal/encoder"
)

// testEnv bundles the mocks and router the handler tests run against.
type testEnv struct {
	embs     *mock.MockEmbeddingStore
	photos   *mock.MockPhotoReader
	stacks   *mock.MockStackWriter
	store    *embedding.Store
	registry *encoder.Registry
	jobs     *JobManager
	router   *chi.Mux
}

func testRules() *config.StackRulesConfig {
	return &config.StackRulesConfig{
		Rules: map[string]config.StackRule{
			"similar": {
				TimeWindowSeconds:   300,
				SimilarityThreshold: 0.85,
				MinStackSize:        3,
				GlobalPass:          true,
			},
			"duplicate": {
				TimeWindowSeconds:   300,
				SimilarityThreshold: 0.97,
				MinStackSize:        2,
				GlobalPass:          true,
			},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		embs:     mock.NewMockEmbeddingStore(),
		photos:   mock.NewMockPhotoReader(),
		stacks:   mock.NewMockStackWriter(),
		registry: encoder.NewRegistry(),
		jobs:     NewJobManager(),
	}
	env.store = embedding.NewStore(env.embs, env.photos)

	stacksHandler := NewStacksHandler(env.store, env.photos, env.stacks, testRules(), env.jobs)
	embeddingsHandler := NewEmbeddingsHandler(env.store)
	searchHandler := NewSearchHandler(env.store, env.registry, "fake")
	statsHandler := NewStatsHandler(env.store)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/stacks", stacksHandler.List)
			r.Post("/stacks/generate", stacksHandler.Generate)
			r.Delete("/stacks", stacksHandler.Clear)
			r.Get("/embeddings/stats", embeddingsHandler.ProjectStats)
			r.Get("/embeddings/stale", embeddingsHandler.Stale)
			r.Delete("/embeddings/stale", embeddingsHandler.InvalidateStale)
			r.Post("/search/text", searchHandler.SearchByText)
			r.Post("/search/similar", searchHandler.FindSimilar)
		})
		r.Get("/jobs/{jobId}", stacksHandler.Status)
		r.Delete("/jobs/{jobId}", stacksHandler.CancelJob)
		r.Post("/embeddings/migrate-half", embeddingsHandler.MigrateHalf)
		r.Get("/stats", statsHandler.Get)
	})
	env.router = r
	return env
}

// addPhoto seeds the catalog and, unless angle is NaN, an embedding rotated
// by angle radians so similarities are predictable.
func (env *testEnv) addPhoto(id int64, projectID int64, angle float64, offset int) {
	taken := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Second)
	env.photos.AddPhoto(database.Photo{
		ID:        id,
		ProjectID: projectID,
		Width:     1920,
		Height:    1080,
		Size:      1000 + id,
		TakenAt:   &taken,
	})
	if !math.IsNaN(angle) {
		v := make([]float32, 8)
		v[0] = float32(math.Cos(angle))
		v[1] = float32(math.Sin(angle))
		env.embs.AddEmbedding(database.StoredEmbedding{
			PhotoID:   id,
			ProjectID: projectID,
			Embedding: v,
			Model:     "clip-vit-b32",
			Dim:       8,
		})
	}
}

// do performs a request against the test router and decodes the JSON body.
func (env *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	decoded := make(map[string]any)
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

// waitForJob polls the job endpoint until the job reaches a terminal state.
func (env *testEnv) waitForJob(t *testing.T, jobID string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, body := env.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("job status returned %d", rec.Code)
		}
		status, _ := body["status"].(string)
		if isJobTerminal(JobStatus(status)) {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return nil
}

// fakeTextEncoder is a minimal encoder backend for search tests.
type fakeTextEncoder struct {
	vec []float32
	err error
}

func (f *fakeTextEncoder) Name() string  { return "fake" }
func (f *fakeTextEncoder) Model() string { return "fake-model" }
func (f *fakeTextEncoder) Dim() int      { return 8 }

func (f *fakeTextEncoder) EncodeImage(ctx context.Context, imageData []byte) ([]float32, error) {
	return nil, &encoder.EncodingUnavailableError{Model: "fake-model", Reason: "no image tower"}
}

func (f *fakeTextEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}
