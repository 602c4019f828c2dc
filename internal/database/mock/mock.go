// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/photostacks/photostacks/internal/database"
)

// MockEmbeddingStore is an in-memory implementation of database.EmbeddingWriter
type MockEmbeddingStore struct {
	mu         sync.RWMutex
	embeddings map[int64]*database.StoredEmbedding
	canonical  map[int64]string // project ID -> pinned model

	// Error injection
	GetError    error
	SaveError   error
	DeleteError error
	StatsError  error
}

// NewMockEmbeddingStore creates a new mock embedding store
func NewMockEmbeddingStore() *MockEmbeddingStore {
	return &MockEmbeddingStore{
		embeddings: make(map[int64]*database.StoredEmbedding),
		canonical:  make(map[int64]string),
	}
}

// AddEmbedding adds an embedding directly, bypassing the canonical model guard
func (m *MockEmbeddingStore) AddEmbedding(emb database.StoredEmbedding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.canonical[emb.ProjectID]; !ok {
		m.canonical[emb.ProjectID] = emb.Model
	}
	m.embeddings[emb.PhotoID] = &emb
}

// Get retrieves an embedding by photo ID
func (m *MockEmbeddingStore) Get(ctx context.Context, photoID int64) (*database.StoredEmbedding, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.embeddings[photoID], nil
}

// GetBatch retrieves embeddings for many photos
func (m *MockEmbeddingStore) GetBatch(ctx context.Context, photoIDs []int64) (map[int64]*database.StoredEmbedding, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[int64]*database.StoredEmbedding, len(photoIDs))
	for _, id := range photoIDs {
		if emb, ok := m.embeddings[id]; ok {
			result[id] = emb
		}
	}
	return result, nil
}

// GetAllForProject retrieves every embedding of a project
func (m *MockEmbeddingStore) GetAllForProject(ctx context.Context, projectID int64) (map[int64]*database.StoredEmbedding, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[int64]*database.StoredEmbedding)
	for id, emb := range m.embeddings {
		if emb.ProjectID == projectID {
			result[id] = emb
		}
	}
	return result, nil
}

// Has checks if an embedding exists
func (m *MockEmbeddingStore) Has(ctx context.Context, photoID int64) (bool, error) {
	if m.GetError != nil {
		return false, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.embeddings[photoID]
	return ok, nil
}

// CanonicalModel returns the project's pinned model, "" if none yet
func (m *MockEmbeddingStore) CanonicalModel(ctx context.Context, projectID int64) (string, error) {
	if m.GetError != nil {
		return "", m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canonical[projectID], nil
}

// Save upserts an embedding, enforcing the canonical model guard
func (m *MockEmbeddingStore) Save(ctx context.Context, emb *database.StoredEmbedding) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	canonical, ok := m.canonical[emb.ProjectID]
	if !ok {
		m.canonical[emb.ProjectID] = emb.Model
	} else if canonical != emb.Model {
		return &database.ModelMismatchError{
			ProjectID: emb.ProjectID,
			Canonical: canonical,
			Got:       emb.Model,
		}
	}
	saved := *emb
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now()
	}
	m.embeddings[emb.PhotoID] = &saved
	return nil
}

// Delete removes the embedding for a photo
func (m *MockEmbeddingStore) Delete(ctx context.Context, photoID int64) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.embeddings, photoID)
	return nil
}

// DeleteBatch removes embeddings for many photos
func (m *MockEmbeddingStore) DeleteBatch(ctx context.Context, photoIDs []int64) (int, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for _, id := range photoIDs {
		if _, ok := m.embeddings[id]; ok {
			delete(m.embeddings, id)
			deleted++
		}
	}
	return deleted, nil
}

// ListFullPrecision returns full-precision photo IDs in ascending order
func (m *MockEmbeddingStore) ListFullPrecision(ctx context.Context, limit int) ([]int64, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for id, emb := range m.embeddings {
		if emb.Precision() == database.PrecisionFull {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Stats returns global storage statistics
func (m *MockEmbeddingStore) Stats(ctx context.Context) (*database.StorageStats, error) {
	if m.StatsError != nil {
		return nil, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats database.StorageStats
	for _, emb := range m.embeddings {
		stats.TotalEmbeddings++
		if emb.Precision() == database.PrecisionHalf {
			stats.HalfPrecision++
		} else {
			stats.FullPrecision++
		}
	}
	if stats.TotalEmbeddings > 0 {
		stats.SpaceSavedPct = float64(stats.HalfPrecision) / float64(stats.TotalEmbeddings) * 50.0
	}
	return &stats, nil
}

// ProjectStats returns storage statistics scoped to one project
func (m *MockEmbeddingStore) ProjectStats(ctx context.Context, projectID int64) (*database.ProjectStats, error) {
	if m.StatsError != nil {
		return nil, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := database.ProjectStats{ProjectID: projectID, CanonicalModel: m.canonical[projectID]}
	for _, emb := range m.embeddings {
		if emb.ProjectID != projectID {
			continue
		}
		stats.TotalEmbeddings++
		if emb.Precision() == database.PrecisionHalf {
			stats.HalfPrecision++
		} else {
			stats.FullPrecision++
		}
	}
	if stats.TotalEmbeddings > 0 {
		stats.SpaceSavedPct = float64(stats.HalfPrecision) / float64(stats.TotalEmbeddings) * 50.0
	}
	return &stats, nil
}

// MockPhotoReader is an in-memory implementation of database.PhotoReader
type MockPhotoReader struct {
	mu     sync.RWMutex
	photos map[int64]*database.Photo

	// Error injection
	GetPhotoError error
}

// NewMockPhotoReader creates a new mock photo reader
func NewMockPhotoReader() *MockPhotoReader {
	return &MockPhotoReader{photos: make(map[int64]*database.Photo)}
}

// AddPhoto adds a photo to the mock catalog
func (m *MockPhotoReader) AddPhoto(photo database.Photo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[photo.ID] = &photo
}

// GetPhoto returns a single photo record, nil if not found
func (m *MockPhotoReader) GetPhoto(ctx context.Context, photoID int64) (*database.Photo, error) {
	if m.GetPhotoError != nil {
		return nil, m.GetPhotoError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.photos[photoID], nil
}

// GetPhotos returns records for the given IDs
func (m *MockPhotoReader) GetPhotos(ctx context.Context, photoIDs []int64) (map[int64]*database.Photo, error) {
	if m.GetPhotoError != nil {
		return nil, m.GetPhotoError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[int64]*database.Photo, len(photoIDs))
	for _, id := range photoIDs {
		if p, ok := m.photos[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

// GetProjectPhotos returns all photos of a project ordered by ID
func (m *MockPhotoReader) GetProjectPhotos(ctx context.Context, projectID int64) ([]database.Photo, error) {
	if m.GetPhotoError != nil {
		return nil, m.GetPhotoError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var photos []database.Photo
	for _, p := range m.photos {
		if p.ProjectID == projectID {
			photos = append(photos, *p)
		}
	}
	sort.Slice(photos, func(i, j int) bool { return photos[i].ID < photos[j].ID })
	return photos, nil
}

// GetPhotosInTimeWindow returns photos captured within the window
func (m *MockPhotoReader) GetPhotosInTimeWindow(ctx context.Context, projectID int64, referenceTS int64,
	windowSeconds int, folderID int64, excludeIDs []int64) ([]database.Photo, error) {
	if m.GetPhotoError != nil {
		return nil, m.GetPhotoError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	excluded := make(map[int64]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	var photos []database.Photo
	for _, p := range m.photos {
		if p.ProjectID != projectID || p.TakenAt == nil {
			continue
		}
		if folderID != 0 && p.FolderID != folderID {
			continue
		}
		if _, skip := excluded[p.ID]; skip {
			continue
		}
		delta := p.TakenAt.Unix() - referenceTS
		if delta < -int64(windowSeconds) || delta > int64(windowSeconds) {
			continue
		}
		photos = append(photos, *p)
	}
	sort.Slice(photos, func(i, j int) bool {
		if !photos[i].TakenAt.Equal(*photos[j].TakenAt) {
			return photos[i].TakenAt.Before(*photos[j].TakenAt)
		}
		return photos[i].ID < photos[j].ID
	})
	return photos, nil
}

// MockStackWriter is an in-memory implementation of database.StackWriter
type MockStackWriter struct {
	mu      sync.RWMutex
	stacks  map[int64]*database.Stack
	counter int64

	// Error injection
	CreateStackError error
	ClearStacksError error
	ListStacksError  error
}

// NewMockStackWriter creates a new mock stack writer
func NewMockStackWriter() *MockStackWriter {
	return &MockStackWriter{stacks: make(map[int64]*database.Stack)}
}

// CreateStack persists a stack with its members
func (m *MockStackWriter) CreateStack(ctx context.Context, stack *database.Stack) (int64, error) {
	if m.CreateStackError != nil {
		return 0, m.CreateStackError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	saved := *stack
	saved.ID = m.counter
	saved.CreatedAt = time.Now()
	saved.Members = append([]database.StackMember(nil), stack.Members...)
	for i := range saved.Members {
		saved.Members[i].StackID = saved.ID
	}
	m.stacks[saved.ID] = &saved
	return saved.ID, nil
}

// ClearStacks deletes stacks of the project with the given type and rule version
func (m *MockStackWriter) ClearStacks(ctx context.Context, projectID int64, stackType database.StackType, ruleVersion string) (int, error) {
	if m.ClearStacksError != nil {
		return 0, m.ClearStacksError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, s := range m.stacks {
		if s.ProjectID == projectID && s.Type == stackType && s.RuleVersion == ruleVersion {
			delete(m.stacks, id)
			deleted++
		}
	}
	return deleted, nil
}

// ListStacks returns stacks of the project, optionally filtered by type
func (m *MockStackWriter) ListStacks(ctx context.Context, projectID int64, stackType database.StackType) ([]database.Stack, error) {
	if m.ListStacksError != nil {
		return nil, m.ListStacksError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stacks []database.Stack
	for _, s := range m.stacks {
		if s.ProjectID != projectID {
			continue
		}
		if stackType != "" && s.Type != stackType {
			continue
		}
		stacks = append(stacks, *s)
	}
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].ID < stacks[j].ID })
	return stacks, nil
}

// Verify interface compliance
var _ database.EmbeddingReader = (*MockEmbeddingStore)(nil)
var _ database.EmbeddingWriter = (*MockEmbeddingStore)(nil)
var _ database.PhotoReader = (*MockPhotoReader)(nil)
var _ database.StackWriter = (*MockStackWriter)(nil)
