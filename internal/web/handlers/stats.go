package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/embedding"
)

const statsCacheTTL = 10 * time.Minute

// StatsResponse is the global storage statistics payload.
type StatsResponse struct {
	TotalEmbeddings int     `json:"total_embeddings"`
	FullPrecision   int     `json:"full_precision"`
	HalfPrecision   int     `json:"half_precision"`
	SpaceSavedPct   float64 `json:"space_saved_pct"`
	ComputedAt      string  `json:"computed_at"`
}

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

// StatsHandler serves global embedding storage statistics
type StatsHandler struct {
	store *embedding.Store
	cache statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(store *embedding.Store) *StatsHandler {
	return &StatsHandler{store: store}
}

// Get returns global storage statistics, cached for a few minutes
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") != "true" {
		if cached, ok := h.cache.get(); ok {
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		log.Printf("Computing storage stats: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	resp := toStatsResponse(stats)
	h.cache.set(resp)
	respondJSON(w, http.StatusOK, resp)
}

func toStatsResponse(stats *database.StorageStats) *StatsResponse {
	return &StatsResponse{
		TotalEmbeddings: stats.TotalEmbeddings,
		FullPrecision:   stats.FullPrecision,
		HalfPrecision:   stats.HalfPrecision,
		SpaceSavedPct:   stats.SpaceSavedPct,
		ComputedAt:      time.Now().UTC().Format(time.RFC3339),
	}
}
