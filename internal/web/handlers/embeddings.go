package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/photostacks/photostacks/internal/constants"
	"github.com/photostacks/photostacks/internal/embedding"
)

// EmbeddingsHandler handles embedding inspection and maintenance endpoints
type EmbeddingsHandler struct {
	store *embedding.Store
}

// NewEmbeddingsHandler creates a new embeddings handler
func NewEmbeddingsHandler(store *embedding.Store) *EmbeddingsHandler {
	return &EmbeddingsHandler{store: store}
}

// ProjectStats returns embedding coverage and storage numbers for a project
func (h *EmbeddingsHandler) ProjectStats(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	stats, err := h.store.ProjectStats(r.Context(), projectID)
	if err != nil {
		log.Printf("Embedding stats for project %d: %v", projectID, err)
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"project_id":       stats.ProjectID,
		"photo_count":      stats.PhotoCount,
		"total_embeddings": stats.TotalEmbeddings,
		"full_precision":   stats.FullPrecision,
		"half_precision":   stats.HalfPrecision,
		"space_saved_pct":  stats.SpaceSavedPct,
		"coverage_pct":     stats.CoveragePct,
		"stale_count":      stats.StaleCount,
		"canonical_model":  stats.CanonicalModel,
	})
}

// Stale lists photos whose embeddings no longer match the catalog content
// hash. ?force=true bypasses the staleness scan cache.
func (h *EmbeddingsHandler) Stale(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	force := r.URL.Query().Get("force") == "true"
	stale, err := h.store.ListStaleForProject(r.Context(), projectID, force)
	if err != nil {
		log.Printf("Stale scan for project %d: %v", projectID, err)
		respondError(w, http.StatusInternalServerError, "failed to scan for stale embeddings")
		return
	}
	if stale == nil {
		stale = []embedding.StalePhoto{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"photos": stale,
		"count":  len(stale),
	})
}

// InvalidateStale deletes stale embeddings so the next encoding run
// recomputes them
func (h *EmbeddingsHandler) InvalidateStale(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	deleted, err := h.store.InvalidateStale(r.Context(), projectID)
	if err != nil {
		log.Printf("Invalidating stale embeddings for project %d: %v", projectID, err)
		respondError(w, http.StatusInternalServerError, "failed to invalidate stale embeddings")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// MigrateRequest controls the half-precision migration batch size.
type MigrateRequest struct {
	BatchSize int `json:"batch_size"`
}

// MigrateHalf converts stored full-precision embeddings to half precision
func (h *EmbeddingsHandler) MigrateHalf(w http.ResponseWriter, r *http.Request) {
	var req MigrateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}
	if req.BatchSize <= 0 {
		req.BatchSize = constants.DefaultMigrateBatchSize
	}

	migrated, err := h.store.MigrateToHalfPrecision(r.Context(), req.BatchSize)
	if err != nil {
		log.Printf("Half-precision migration: %v (migrated %d before failure)", err, migrated)
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":    "migration interrupted",
			"migrated": migrated,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"migrated": migrated})
}
