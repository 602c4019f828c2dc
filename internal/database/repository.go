package database

import (
	"context"
	"fmt"
)

// ModelMismatchError is returned by embedding writes when the model differs
// from the project's canonical model. Mixing vector spaces from different
// encoders would make cosine similarity meaningless.
type ModelMismatchError struct {
	ProjectID int64
	Canonical string
	Got       string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("model %q does not match canonical model %q for project %d",
		e.Got, e.Canonical, e.ProjectID)
}

// PersistenceError wraps a failed stack or embedding write. It aborts only
// the transaction that raised it; the caller decides whether the overall
// run continues.
type PersistenceError struct {
	Op  string // the write that failed, e.g. "insert stack"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// EmbeddingReader provides read-only access to embedding rows.
type EmbeddingReader interface {
	// Get retrieves the embedding for a photo, nil if not found.
	// The vector is decoded to float32 regardless of stored precision.
	Get(ctx context.Context, photoID int64) (*StoredEmbedding, error)
	// GetBatch retrieves embeddings for many photos in a single round trip.
	// Photos without an embedding are simply absent from the result.
	GetBatch(ctx context.Context, photoIDs []int64) (map[int64]*StoredEmbedding, error)
	// GetAllForProject retrieves every embedding of a project.
	GetAllForProject(ctx context.Context, projectID int64) (map[int64]*StoredEmbedding, error)
	// Has checks if an embedding exists for the photo.
	Has(ctx context.Context, photoID int64) (bool, error)
	// CanonicalModel returns the project's pinned model, "" if none yet.
	CanonicalModel(ctx context.Context, projectID int64) (string, error)
	// Stats returns global storage statistics.
	Stats(ctx context.Context) (*StorageStats, error)
	// ProjectStats returns storage statistics scoped to one project.
	ProjectStats(ctx context.Context, projectID int64) (*ProjectStats, error)
}

// EmbeddingWriter provides write access to embedding rows.
type EmbeddingWriter interface {
	EmbeddingReader

	// Save upserts the embedding row for a photo (last write wins).
	// The first successful write for a project pins its canonical model;
	// later writes with a different model fail with ModelMismatchError.
	Save(ctx context.Context, emb *StoredEmbedding) error
	// Delete removes the embedding for a photo.
	Delete(ctx context.Context, photoID int64) error
	// DeleteBatch removes embeddings for many photos in one statement,
	// returning the number of rows deleted.
	DeleteBatch(ctx context.Context, photoIDs []int64) (int, error)
	// ListFullPrecision returns up to limit photo IDs whose embeddings are
	// still stored in full precision, in ascending ID order.
	ListFullPrecision(ctx context.Context, limit int) ([]int64, error)
}

// PhotoReader is the contract against the external photo catalog.
type PhotoReader interface {
	// GetPhoto returns a single photo record, nil if not found.
	GetPhoto(ctx context.Context, photoID int64) (*Photo, error)
	// GetPhotos returns records for the given IDs (missing IDs are skipped).
	GetPhotos(ctx context.Context, photoIDs []int64) (map[int64]*Photo, error)
	// GetProjectPhotos returns all photo records of a project.
	GetProjectPhotos(ctx context.Context, projectID int64) ([]Photo, error)
	// GetPhotosInTimeWindow returns photos of the project whose capture
	// timestamp lies within ±windowSeconds of referenceTS. folderID of 0
	// means any folder; excludeIDs are omitted from the result.
	GetPhotosInTimeWindow(ctx context.Context, projectID int64, referenceTS int64,
		windowSeconds int, folderID int64, excludeIDs []int64) ([]Photo, error)
}

// StackWriter provides create/clear/list access to stacks and members.
type StackWriter interface {
	// CreateStack persists a stack with its members in one transaction and
	// returns the assigned stack ID.
	CreateStack(ctx context.Context, stack *Stack) (int64, error)
	// ClearStacks deletes all stacks (and members, cascading) of the
	// project with the given type and rule version. Returns rows deleted.
	ClearStacks(ctx context.Context, projectID int64, stackType StackType, ruleVersion string) (int, error)
	// ListStacks returns stacks of the project, optionally filtered by type
	// ("" = all), members included.
	ListStacks(ctx context.Context, projectID int64, stackType StackType) ([]Stack, error)
}
