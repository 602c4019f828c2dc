package stacker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/database/mock"
	"github.com/photostacks/photostacks/internal/embedding"
)

const testProjectID = int64(1)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// unitVec returns a normalized 8-dim vector rotated by angle radians, so the
// similarity of two photos is the cosine of their angle difference.
func unitVec(angle float64) []float32 {
	v := make([]float32, 8)
	v[0] = float32(math.Cos(angle))
	v[1] = float32(math.Sin(angle))
	return v
}

type fixture struct {
	embs   *mock.MockEmbeddingStore
	photos *mock.MockPhotoReader
	stacks *mock.MockStackWriter
	gen    *Generator
}

func newFixture() *fixture {
	f := &fixture{
		embs:   mock.NewMockEmbeddingStore(),
		photos: mock.NewMockPhotoReader(),
		stacks: mock.NewMockStackWriter(),
	}
	f.gen = NewGenerator(embedding.NewStore(f.embs, f.photos), f.photos, f.stacks)
	return f
}

// addPhoto registers a catalog record and, unless angle is NaN, an embedding
// rotated by that angle. offset is seconds after the base time; negative
// means no capture timestamp.
func (f *fixture) addPhoto(id int64, angle float64, offset int, folderID int64) {
	photo := database.Photo{
		ID:        id,
		ProjectID: testProjectID,
		Width:     1920,
		Height:    1080,
		Size:      1000 + id,
		Path:      fmt.Sprintf("/photos/IMG_%04d.jpg", id),
		FolderID:  folderID,
	}
	if offset >= 0 {
		taken := baseTime.Add(time.Duration(offset) * time.Second)
		photo.TakenAt = &taken
	}
	f.photos.AddPhoto(photo)

	if !math.IsNaN(angle) {
		f.embs.AddEmbedding(database.StoredEmbedding{
			PhotoID:   id,
			ProjectID: testProjectID,
			Embedding: unitVec(angle),
			Model:     "clip-vit-b32",
			Dim:       8,
		})
	}
}

func TestRegenerateTimeWindowStack(t *testing.T) {
	f := newFixture()
	// Three near-identical shots two seconds apart, plus one unrelated.
	f.addPhoto(1, 0, 0, 1)
	f.addPhoto(2, 0.05, 2, 1)
	f.addPhoto(3, 0.1, 4, 1)
	f.addPhoto(4, 1.5, 6, 1)

	result, err := f.gen.Regenerate(context.Background(), Params{
		ProjectID:           testProjectID,
		StackType:           database.StackTypeSimilar,
		TimeWindowSeconds:   300,
		SimilarityThreshold: 0.85,
		MinStackSize:        3,
	})
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}

	if result.PhotosConsidered != 4 {
		t.Errorf("Expected 4 photos considered, got %d", result.PhotosConsidered)
	}
	if result.StacksCreated != 1 {
		t.Fatalf("Expected 1 stack, got %d", result.StacksCreated)
	}
	if result.MembershipsCreated != 3 {
		t.Errorf("Expected 3 memberships, got %d", result.MembershipsCreated)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Unexpected errors: %v", result.Errors)
	}

	stacks, _ := f.stacks.ListStacks(context.Background(), testProjectID, "")
	if len(stacks) != 1 {
		t.Fatalf("Expected 1 persisted stack, got %d", len(stacks))
	}
	stack := stacks[0]
	if stack.RepresentativePhotoID == nil {
		t.Fatal("Stack has no representative")
	}
	// Equal resolution, photo 3 has the largest file.
	if *stack.RepresentativePhotoID != 3 {
		t.Errorf("Expected representative 3, got %d", *stack.RepresentativePhotoID)
	}
	if len(stack.Members) != 3 {
		t.Fatalf("Expected 3 members, got %d", len(stack.Members))
	}
	first := stack.Members[0]
	if first.PhotoID != 3 || first.SimilarityScore != 1.0 || first.Rank == nil || *first.Rank != 0 {
		t.Errorf("Representative should lead with score 1.0 and rank 0, got %+v", first)
	}
	for i, m := range stack.Members {
		if m.Rank == nil || *m.Rank != i {
			t.Errorf("Member %d has rank %v", i, m.Rank)
		}
	}
}

func TestRegenerateCompleteLinkage(t *testing.T) {
	f := newFixture()
	// 1~2 and 2~3 clear the threshold but 1~3 does not; the stack must not
	// chain all three together.
	f.addPhoto(1, 0, 0, 1)
	f.addPhoto(2, 0.25, 2, 1)
	f.addPhoto(3, 0.5, 4, 1)

	result, err := f.gen.Regenerate(context.Background(), Params{
		ProjectID:           testProjectID,
		StackType:           database.StackTypeNearDuplicate,
		SimilarityThreshold: 0.95,
		MinStackSize:        2,
	})
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}

	if result.StacksCreated != 1 {
		t.Fatalf("Expected 1 stack, got %d", result.StacksCreated)
	}
	stacks, _ := f.stacks.ListStacks(context.Background(), testProjectID, "")
	if ids := memberIDs(stacks[0]); ids != "1,2" {
		t.Errorf("Expected members [1 2], got %s", ids)
	}
}

func TestRegenerateGlobalPassCrossDate(t *testing.T) {
	f := newFixture()
	// Near-identical shots taken days apart: the time-window pass finds
	// nothing, only the global pass can group them.
	day := 24 * 3600
	f.addPhoto(1, 0, 0, 1)
	f.addPhoto(2, 0.03, day, 1)
	f.addPhoto(3, 0.06, 2*day, 1)

	params := Params{
		ProjectID:           testProjectID,
		StackType:           database.StackTypeDuplicate,
		TimeWindowSeconds:   300,
		SimilarityThreshold: 0.95,
		MinStackSize:        3,
	}

	result, err := f.gen.Regenerate(context.Background(), params)
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if result.StacksCreated != 0 {
		t.Fatalf("Without the global pass expected 0 stacks, got %d", result.StacksCreated)
	}

	params.GlobalPass = true
	result, err = f.gen.Regenerate(context.Background(), params)
	if err != nil {
		t.Fatalf("Regenerate with global pass failed: %v", err)
	}
	if result.StacksCreated != 1 || result.MembershipsCreated != 3 {
		t.Errorf("Expected 1 stack with 3 members, got %d/%d",
			result.StacksCreated, result.MembershipsCreated)
	}
}

func TestRegenerateGlobalPassSubsumesTimeCluster(t *testing.T) {
	f := newFixture()
	// A burst of three plus an identical shot from another day. The global
	// cluster contains the whole burst, so one merged stack results.
	f.addPhoto(1, 0, 0, 1)
	f.addPhoto(2, 0.03, 2, 1)
	f.addPhoto(3, 0.06, 4, 1)
	f.addPhoto(4, 0.02, 3*24*3600, 1)

	result, err := f.gen.Regenerate(context.Background(), Params{
		ProjectID:           testProjectID,
		StackType:           database.StackTypeDuplicate,
		TimeWindowSeconds:   300,
		SimilarityThreshold: 0.9,
		MinStackSize:        3,
		GlobalPass:          true,
	})
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}

	if result.StacksCreated != 1 {
		t.Fatalf("Expected the global cluster to subsume the burst into 1 stack, got %d", result.StacksCreated)
	}
	stacks, _ := f.stacks.ListStacks(context.Background(), testProjectID, "")
	if ids := memberIDs(stacks[0]); ids != "1,2,3,4" {
		t.Errorf("Expected members [1 2 3 4], got %s", ids)
	}
}

func TestRegeneratePartialOverlapKeepsTimeCluster(t *testing.T) {
	f := newFixture()
	// Time-window stack {1,2} at 0.9; the stricter global threshold links 1
	// with 4 but not 2 with 4, so the global cluster straddles the stack
	// boundary. The time-window grouping must survive untouched.
	f.addPhoto(1, 0, 0, 1)
	f.addPhoto(2, 0.31, 2, 1)
	f.addPhoto(4, -0.05, 3*24*3600, 1)

	result, err := f.gen.Regenerate(context.Background(), Params{
		ProjectID:           testProjectID,
		StackType:           database.StackTypeSimilar,
		TimeWindowSeconds:   300,
		SimilarityThreshold: 0.9,
		CrossDateThreshold:  0.97,
		MinStackSize:        2,
		GlobalPass:          true,
	})
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}

	if result.StacksCreated != 1 {
		t.Fatalf("Expected 1 stack, got %d", result.StacksCreated)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected the overlap to be reported, got errors %v", result.Errors)
	}
	stacks, _ := f.stacks.ListStacks(context.Background(), testProjectID, "")
	if ids := memberIDs(stacks[0]); ids != "1,2" {
		t.Errorf("Expected the time-window stack [1 2] to be kept, got %s", ids)
	}
}

func TestRegenerateGlobalSubsetClusterDroppedSilently(t *testing.T) {
	f := newFixture()
	// A burst where 1~2 and 2~3 clear the stricter global threshold but 1~3
	// only clears the time-window one. The global pass finds {1,2} inside
	// the kept stack {1,2,3}; a healthy run must not report that as an
	// error.
	f.addPhoto(1, 0, 0, 1)
	f.addPhoto(2, 0.245, 5, 1)
	f.addPhoto(3, 0.49, 10, 1)

	result, err := f.gen.Regenerate(context.Background(), Params{
		ProjectID:           testProjectID,
		StackType:           database.StackTypeSimilar,
		TimeWindowSeconds:   300,
		SimilarityThreshold: 0.85,
		CrossDateThreshold:  0.95,
		MinStackSize:        2,
		GlobalPass:          true,
	})
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}

	if result.StacksCreated != 1 {
		t.Fatalf("Expected 1 stack, got %d", result.StacksCreated)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Expected no errors, got %v", result.Errors)
	}
	stacks, _ := f.stacks.ListStacks(context.Background(), testProjectID, "")
	if ids := memberIDs(stacks[0]); ids != "1,2,3" {
		t.Errorf("Expected stack [1 2 3], got %s", ids)
	}
}

func TestRegenerateSameFolderOnly(t *testing.T) {
	f := newFixture()
	// Two simultaneous bursts in different folders. The burst rule must not
	// merge them even though every pair is visually similar.
	for i := int64(1); i <= 3; i++ {
		f.addPhoto(i, float64(i)*0.01, int(i), 1)
	}
	for i := int64(4); i <= 6; i++ {
		f.addPhoto(i, float64(i)*0.01, int(i), 2)
	}

	result, err := f.gen.Regenerate(context.Background(), Params{
		ProjectID:           testProjectID,
		StackType:           database.StackTypeBurst,
		TimeWindowSeconds:   60,
		SimilarityThreshold: 0.85,
		MinStackSize:        3,
		SameFolderOnly:      true,
	})
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}

	if result.StacksCreated != 2 {
		t.Fatalf("Expected 2 per-folder stacks, got %d", result.StacksCreated)
	}
	stacks, _ := f.stacks.ListStacks(context.Background(), testProjectID, database.StackTypeBurst)
	got := []string{memberIDs(stacks[0]), memberIDs(stacks[1])}
	sort.Strings(got)
	if got[0] != "1,2,3" || got[1] != "4,5,6" {
		t.Errorf("Expected folder-scoped stacks [1,2,3] and [4,5,6], got %v", got)
	}
}

func TestRegenerateSkipsPhotosWithoutEmbeddings(t *testing.T) {
	f := newFixture()
	f.addPhoto(1, 0, 0, 1)
	f.addPhoto(2, 0.05, 2, 1)
	f.addPhoto(3, 0.1, 4, 1)
	f.addPhoto(4, math.NaN(), 6, 1) // catalog record, never encoded

	result, err := f.gen.Regenerate(context.Background(), Params{
		ProjectID:           testProjectID,
		SimilarityThreshold: 0.85,
		MinStackSize:        3,
	})
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if result.PhotosConsidered != 3 {
		t.Errorf("Expected 3 photos considered, got %d", result.PhotosConsidered)
	}
	if result.StacksCreated != 1 {
		t.Errorf("Expected 1 stack, got %d", result.StacksCreated)
	}
}

func TestRegenerateReplacesPreviousRun(t *testing.T) {
	f := newFixture()
	f.addPhoto(1, 0, 0, 1)
	f.addPhoto(2, 0.05, 2, 1)
	f.addPhoto(3, 0.1, 4, 1)

	params := Params{ProjectID: testProjectID, SimilarityThreshold: 0.85, MinStackSize: 3}
	ctx := context.Background()

	if _, err := f.gen.Regenerate(ctx, params); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if _, err := f.gen.Regenerate(ctx, params); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	stacks, _ := f.stacks.ListStacks(ctx, testProjectID, "")
	if len(stacks) != 1 {
		t.Errorf("Rerun should replace its own stacks, found %d", len(stacks))
	}
}

func TestRegenerateDeterministic(t *testing.T) {
	f := newFixture()
	for i := int64(1); i <= 12; i++ {
		f.addPhoto(i, float64(i%4)*0.04+float64(i/4), int(i)*2, 1)
	}

	params := Params{
		ProjectID:           testProjectID,
		SimilarityThreshold: 0.95,
		MinStackSize:        2,
		GlobalPass:          true,
	}
	ctx := context.Background()

	snapshot := func() []string {
		stacks, _ := f.stacks.ListStacks(ctx, testProjectID, "")
		var out []string
		for _, s := range stacks {
			out = append(out, fmt.Sprintf("rep=%d members=%s", *s.RepresentativePhotoID, memberIDs(s)))
		}
		sort.Strings(out)
		return out
	}

	if _, err := f.gen.Regenerate(ctx, params); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	first := snapshot()
	if _, err := f.gen.Regenerate(ctx, params); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	second := snapshot()

	if len(first) == 0 {
		t.Fatal("Expected at least one stack")
	}
	if len(first) != len(second) {
		t.Fatalf("Stack counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Stack %d differs between runs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestRegenerateCancelled(t *testing.T) {
	f := newFixture()
	f.addPhoto(1, 0, 0, 1)
	f.addPhoto(2, 0.05, 2, 1)
	f.addPhoto(3, 0.1, 4, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.gen.Regenerate(ctx, Params{ProjectID: testProjectID})
	if err == nil {
		t.Fatal("Expected an error from a cancelled context")
	}
}

func TestRegenerateCollectsPersistErrors(t *testing.T) {
	f := newFixture()
	f.addPhoto(1, 0, 0, 1)
	f.addPhoto(2, 0.05, 2, 1)
	f.addPhoto(3, 0.1, 4, 1)
	f.stacks.CreateStackError = fmt.Errorf("connection reset")

	result, err := f.gen.Regenerate(context.Background(), Params{
		ProjectID:           testProjectID,
		SimilarityThreshold: 0.85,
		MinStackSize:        3,
	})
	if err != nil {
		t.Fatalf("Persist failures should not abort the run: %v", err)
	}
	if result.StacksCreated != 0 {
		t.Errorf("Expected 0 stacks created, got %d", result.StacksCreated)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "connection reset") {
		t.Errorf("Expected the persist error to be collected, got %v", result.Errors)
	}
}

func TestEffectiveRuleVersion(t *testing.T) {
	base := Params{StackType: database.StackTypeSimilar, SimilarityThreshold: 0.85, MinStackSize: 3}

	if v := base.EffectiveRuleVersion(); v != base.EffectiveRuleVersion() {
		t.Error("Derived rule version is not stable")
	}
	if !strings.HasPrefix(base.EffectiveRuleVersion(), "v1-") {
		t.Errorf("Unexpected derived version format: %s", base.EffectiveRuleVersion())
	}

	tuned := base
	tuned.SimilarityThreshold = 0.9
	if tuned.EffectiveRuleVersion() == base.EffectiveRuleVersion() {
		t.Error("Changing the threshold must change the derived rule version")
	}

	explicit := base
	explicit.RuleVersion = "manual-2"
	if explicit.EffectiveRuleVersion() != "manual-2" {
		t.Errorf("Explicit rule version not honored: %s", explicit.EffectiveRuleVersion())
	}
}

func memberIDs(stack database.Stack) string {
	ids := make([]int64, 0, len(stack.Members))
	for _, m := range stack.Members {
		ids = append(ids, m.PhotoID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}
