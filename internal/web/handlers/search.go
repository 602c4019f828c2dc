package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/photostacks/photostacks/internal/constants"
	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/embedding"
	"github.com/photostacks/photostacks/internal/encoder"
	"github.com/photostacks/photostacks/internal/index"
)

// SearchHandler handles text-to-image similarity search
type SearchHandler struct {
	store    *embedding.Store
	registry *encoder.Registry
	backend  string
}

// NewSearchHandler creates a new search handler using the named encoder backend
func NewSearchHandler(store *embedding.Store, registry *encoder.Registry, backend string) *SearchHandler {
	return &SearchHandler{store: store, registry: registry, backend: backend}
}

// SearchRequest represents a text search request.
type SearchRequest struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
}

// SearchByText embeds the query text and returns the project's most similar
// photos
func (h *SearchHandler) SearchByText(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = constants.DefaultSearchTopK
	}
	if req.TopK > constants.MaxSearchTopK {
		req.TopK = constants.MaxSearchTopK
	}

	enc, err := h.registry.Get(h.backend)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	query, err := enc.EncodeText(r.Context(), req.Query)
	if err != nil {
		var unavailable *encoder.EncodingUnavailableError
		if errors.As(err, &unavailable) {
			respondError(w, http.StatusServiceUnavailable, unavailable.Error())
			return
		}
		log.Printf("Encoding search query %q: %v", sanitizeForLog(req.Query), err)
		respondError(w, http.StatusInternalServerError, "failed to encode query")
		return
	}

	vecs, err := h.store.VectorsForProject(r.Context(), projectID)
	if err != nil {
		log.Printf("Loading embeddings for project %d: %v", projectID, err)
		respondError(w, http.StatusInternalServerError, "failed to load embeddings")
		return
	}

	matches := index.Build(vecs).TopK(query, req.TopK, req.Threshold, 0)
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{PhotoID: m.PhotoID, Similarity: m.Similarity})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// SimilarRequest asks for the nearest neighbors of one photo.
type SimilarRequest struct {
	PhotoID   int64   `json:"photo_id"`
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
}

// FindSimilar returns the photos most similar to a given photo
func (h *SearchHandler) FindSimilar(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	var req SimilarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.PhotoID <= 0 {
		respondError(w, http.StatusBadRequest, "photo_id is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = constants.DefaultSearchTopK
	}
	if req.Threshold <= 0 {
		req.Threshold = database.DefaultSimilarityThreshold
	}

	vecs, err := h.store.VectorsForProject(r.Context(), projectID)
	if err != nil {
		log.Printf("Loading embeddings for project %d: %v", projectID, err)
		respondError(w, http.StatusInternalServerError, "failed to load embeddings")
		return
	}

	idx := index.Build(vecs)
	query := idx.Vector(req.PhotoID)
	if query == nil {
		respondError(w, http.StatusNotFound, "photo has no embedding")
		return
	}

	matches := idx.TopK(query, req.TopK, req.Threshold, req.PhotoID)
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{PhotoID: m.PhotoID, Similarity: m.Similarity})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// SearchResult is one search hit.
type SearchResult struct {
	PhotoID    int64   `json:"photo_id"`
	Similarity float64 `json:"similarity"`
}
