// Package embedding implements precision-aware persistence of image
// embeddings on top of the database repositories: normalization
// enforcement on write, content-hash staleness tracking, and the
// full-to-half precision migration.
package embedding

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/vectors"
)

// staleCacheTTL bounds how long a per-project staleness scan is reused.
// Scanning compares every embedding's content hash against the catalog, so
// repeated calls within a session should not redo it.
const staleCacheTTL = 5 * time.Minute

// StalePhoto identifies a photo whose embedding needs recomputing.
type StalePhoto struct {
	PhotoID int64  `json:"photo_id"`
	Path    string `json:"path"`
}

type staleCacheEntry struct {
	stale     []StalePhoto
	scannedAt time.Time
}

// Store wraps the embedding repository with the write-side invariants:
// every stored vector is unit length, carries the project's canonical
// model, and half-precision rows hold exactly what a float16 round trip
// produces.
type Store struct {
	repo   database.EmbeddingWriter
	photos database.PhotoReader

	staleMu    sync.Mutex
	staleCache map[int64]staleCacheEntry
}

// NewStore creates an embedding store over the given repositories
func NewStore(repo database.EmbeddingWriter, photos database.PhotoReader) *Store {
	return &Store{
		repo:       repo,
		photos:     photos,
		staleCache: make(map[int64]staleCacheEntry),
	}
}

// Save validates and persists an embedding. Vectors that deviate from unit
// length beyond tolerance are re-normalized with a warning; zero vectors
// are rejected. Half-precision vectors are quantized client-side first so
// the in-memory value equals what later reads will return.
func (s *Store) Save(ctx context.Context, photoID, projectID int64, vec []float32,
	model string, precision database.Precision, contentHash string) error {

	if len(vec) == 0 {
		return fmt.Errorf("refusing to store empty embedding for photo %d", photoID)
	}
	if model == "" {
		return fmt.Errorf("refusing to store embedding without model for photo %d", photoID)
	}

	stored := append([]float32(nil), vec...)
	if !vectors.IsNormalized(stored, database.NormTolerance) {
		norm := vectors.Norm(stored)
		if norm == 0 {
			return fmt.Errorf("refusing to store zero vector for photo %d", photoID)
		}
		fmt.Printf("Warning: embedding for photo %d has norm %.4f, re-normalizing\n", photoID, norm)
		vectors.Normalize(stored)
	}

	if precision == database.PrecisionHalf {
		stored = vectors.QuantizeHalf(stored)
	}

	emb := &database.StoredEmbedding{
		PhotoID:     photoID,
		ProjectID:   projectID,
		Embedding:   stored,
		Model:       model,
		Dim:         database.EncodeDim(len(stored), precision),
		ContentHash: contentHash,
	}
	if err := s.repo.Save(ctx, emb); err != nil {
		return err
	}

	s.invalidateStaleCache(projectID)
	return nil
}

// Get retrieves the embedding for a photo, nil if not found
func (s *Store) Get(ctx context.Context, photoID int64) (*database.StoredEmbedding, error) {
	return s.repo.Get(ctx, photoID)
}

// GetBatch retrieves embeddings for many photos in one round trip
func (s *Store) GetBatch(ctx context.Context, photoIDs []int64) (map[int64]*database.StoredEmbedding, error) {
	return s.repo.GetBatch(ctx, photoIDs)
}

// GetAllForProject retrieves every embedding of a project
func (s *Store) GetAllForProject(ctx context.Context, projectID int64) (map[int64]*database.StoredEmbedding, error) {
	return s.repo.GetAllForProject(ctx, projectID)
}

// VectorsForProject returns just the vectors of a project, keyed by photo
// ID, in the shape the similarity index builds from.
func (s *Store) VectorsForProject(ctx context.Context, projectID int64) (map[int64][]float32, error) {
	embeddings, err := s.repo.GetAllForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	result := make(map[int64][]float32, len(embeddings))
	for id, emb := range embeddings {
		result[id] = emb.Embedding
	}
	return result, nil
}

// CanonicalModel returns the project's pinned model, "" if none yet
func (s *Store) CanonicalModel(ctx context.Context, projectID int64) (string, error) {
	return s.repo.CanonicalModel(ctx, projectID)
}

// IsStale reports whether a photo's embedding no longer matches its pixels.
// A photo without an embedding is stale (it needs encoding), and so is one
// whose stored or current content hash is missing: an embedding that cannot
// be verified is not trusted. EXIF-only edits never change the content hash,
// so they never mark an embedding stale.
func (s *Store) IsStale(ctx context.Context, photoID int64) (bool, error) {
	emb, err := s.repo.Get(ctx, photoID)
	if err != nil {
		return false, err
	}
	if emb == nil || emb.ContentHash == "" {
		return true, nil
	}

	photo, err := s.photos.GetPhoto(ctx, photoID)
	if err != nil {
		return false, err
	}
	if photo == nil || photo.ContentHash == "" {
		return true, nil
	}
	return photo.ContentHash != emb.ContentHash, nil
}

// ListStaleForProject returns the photos whose stored embedding no longer
// matches the catalog's content hash, or cannot be verified against it,
// ascending by photo ID. Results are cached per project for a few minutes;
// force bypasses the cache.
func (s *Store) ListStaleForProject(ctx context.Context, projectID int64, force bool) ([]StalePhoto, error) {
	if !force {
		s.staleMu.Lock()
		entry, ok := s.staleCache[projectID]
		s.staleMu.Unlock()
		if ok && time.Since(entry.scannedAt) < staleCacheTTL {
			return entry.stale, nil
		}
	}

	embeddings, err := s.repo.GetAllForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(embeddings))
	for id := range embeddings {
		ids = append(ids, id)
	}
	photos, err := s.photos.GetPhotos(ctx, ids)
	if err != nil {
		return nil, err
	}

	var stale []StalePhoto
	for id, emb := range embeddings {
		photo, ok := photos[id]
		if emb.ContentHash == "" || !ok || photo.ContentHash == "" ||
			photo.ContentHash != emb.ContentHash {
			entry := StalePhoto{PhotoID: id}
			if ok {
				entry.Path = photo.Path
			}
			stale = append(stale, entry)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].PhotoID < stale[j].PhotoID })

	s.staleMu.Lock()
	s.staleCache[projectID] = staleCacheEntry{stale: stale, scannedAt: time.Now()}
	s.staleMu.Unlock()

	return stale, nil
}

// InvalidateStale deletes the stale embeddings of a project so the next
// encoding run recomputes them. Returns the number deleted.
func (s *Store) InvalidateStale(ctx context.Context, projectID int64) (int, error) {
	stale, err := s.ListStaleForProject(ctx, projectID, true)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(stale))
	for _, p := range stale {
		ids = append(ids, p.PhotoID)
	}
	deleted, err := s.repo.DeleteBatch(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("delete stale embeddings: %w", err)
	}
	s.invalidateStaleCache(projectID)
	return deleted, nil
}

// MigrateToHalfPrecision converts stored full-precision embeddings to half
// precision in batches of batchSize, returning the number migrated. The
// migration is resumable: already-converted rows are never listed again, so
// rerunning after an interruption picks up where it stopped.
func (s *Store) MigrateToHalfPrecision(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	migrated := 0
	for {
		if err := ctx.Err(); err != nil {
			return migrated, err
		}

		ids, err := s.repo.ListFullPrecision(ctx, batchSize)
		if err != nil {
			return migrated, fmt.Errorf("list full-precision embeddings: %w", err)
		}
		if len(ids) == 0 {
			return migrated, nil
		}

		batch, err := s.repo.GetBatch(ctx, ids)
		if err != nil {
			return migrated, fmt.Errorf("load migration batch: %w", err)
		}

		for _, id := range ids {
			emb, ok := batch[id]
			if !ok {
				continue // deleted between list and load
			}
			dim, _ := database.DecodeDim(emb.Dim)
			converted := &database.StoredEmbedding{
				PhotoID:     emb.PhotoID,
				ProjectID:   emb.ProjectID,
				Embedding:   vectors.QuantizeHalf(emb.Embedding),
				Model:       emb.Model,
				Dim:         database.EncodeDim(dim, database.PrecisionHalf),
				ContentHash: emb.ContentHash,
			}
			if err := s.repo.Save(ctx, converted); err != nil {
				return migrated, fmt.Errorf("migrate photo %d: %w", id, err)
			}
			migrated++
		}
	}
}

// Stats returns global storage statistics
func (s *Store) Stats(ctx context.Context) (*database.StorageStats, error) {
	return s.repo.Stats(ctx)
}

// ProjectStats returns project statistics enriched with catalog coverage
// and staleness numbers the repository alone cannot compute.
func (s *Store) ProjectStats(ctx context.Context, projectID int64) (*database.ProjectStats, error) {
	stats, err := s.repo.ProjectStats(ctx, projectID)
	if err != nil {
		return nil, err
	}

	photos, err := s.photos.GetProjectPhotos(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stats.PhotoCount = len(photos)
	if stats.PhotoCount > 0 {
		stats.CoveragePct = float64(stats.TotalEmbeddings) / float64(stats.PhotoCount) * 100.0
	}

	stale, err := s.ListStaleForProject(ctx, projectID, false)
	if err != nil {
		return nil, err
	}
	stats.StaleCount = len(stale)

	return stats, nil
}

func (s *Store) invalidateStaleCache(projectID int64) {
	s.staleMu.Lock()
	delete(s.staleCache, projectID)
	s.staleMu.Unlock()
}
