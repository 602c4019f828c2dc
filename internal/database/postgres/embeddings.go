package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/photostacks/photostacks/internal/database"
)

// EmbeddingRepository provides PostgreSQL-backed embedding storage.
// Vectors live in one of two pgvector columns depending on precision;
// the signed dim marker decides which one a row uses.
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// embeddingColumns selects the populated vector column as text so both
// precisions scan through the same pgvector.Vector path.
const embeddingColumns = `photo_id, project_id, COALESCE(embedding::text, embedding_half::text), model, dim, content_hash, created_at`

func scanEmbedding(scan func(dest ...any) error) (*database.StoredEmbedding, error) {
	var emb database.StoredEmbedding
	var vec pgvector.Vector

	if err := scan(
		&emb.PhotoID,
		&emb.ProjectID,
		&vec,
		&emb.Model,
		&emb.Dim,
		&emb.ContentHash,
		&emb.CreatedAt,
	); err != nil {
		return nil, err
	}

	emb.Embedding = vec.Slice()
	return &emb, nil
}

// Get retrieves the embedding for a photo, nil if not found
func (r *EmbeddingRepository) Get(ctx context.Context, photoID int64) (*database.StoredEmbedding, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+embeddingColumns+`
		FROM embeddings
		WHERE photo_id = $1
	`, photoID)

	emb, err := scanEmbedding(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	return emb, nil
}

// GetBatch retrieves embeddings for many photos in a single round trip
func (r *EmbeddingRepository) GetBatch(ctx context.Context, photoIDs []int64) (map[int64]*database.StoredEmbedding, error) {
	result := make(map[int64]*database.StoredEmbedding, len(photoIDs))
	if len(photoIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+embeddingColumns+`
		FROM embeddings
		WHERE photo_id = ANY($1)
	`, pq.Array(photoIDs))
	if err != nil {
		return nil, fmt.Errorf("query embeddings batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		emb, err := scanEmbedding(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		result[emb.PhotoID] = emb
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return result, nil
}

// GetAllForProject retrieves every embedding of a project
func (r *EmbeddingRepository) GetAllForProject(ctx context.Context, projectID int64) (map[int64]*database.StoredEmbedding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+embeddingColumns+`
		FROM embeddings
		WHERE project_id = $1
		ORDER BY photo_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query project embeddings: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]*database.StoredEmbedding)
	for rows.Next() {
		emb, err := scanEmbedding(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		result[emb.PhotoID] = emb
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return result, nil
}

// Has checks if an embedding exists for the given photo
func (r *EmbeddingRepository) Has(ctx context.Context, photoID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM embeddings WHERE photo_id = $1)", photoID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check embedding exists: %w", err)
	}
	return exists, nil
}

// CanonicalModel returns the project's pinned model, "" if none yet
func (r *EmbeddingRepository) CanonicalModel(ctx context.Context, projectID int64) (string, error) {
	var model string
	err := r.pool.QueryRow(ctx, "SELECT model FROM project_models WHERE project_id = $1", projectID).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query canonical model: %w", err)
	}
	return model, nil
}

// Save upserts the embedding row for a photo. The first write of a project
// pins the canonical model; later writes with a different model fail with
// ModelMismatchError before touching the embeddings table.
func (r *EmbeddingRepository) Save(ctx context.Context, emb *database.StoredEmbedding) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return &database.PersistenceError{Op: "begin embedding transaction", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO project_models (project_id, model)
		VALUES ($1, $2)
		ON CONFLICT (project_id) DO NOTHING
	`, emb.ProjectID, emb.Model); err != nil {
		return &database.PersistenceError{Op: "pin canonical model", Err: err}
	}

	var canonical string
	if err := tx.QueryRowContext(ctx,
		"SELECT model FROM project_models WHERE project_id = $1", emb.ProjectID,
	).Scan(&canonical); err != nil {
		return fmt.Errorf("query canonical model: %w", err)
	}
	if canonical != emb.Model {
		return &database.ModelMismatchError{
			ProjectID: emb.ProjectID,
			Canonical: canonical,
			Got:       emb.Model,
		}
	}

	var full, half any
	if emb.Precision() == database.PrecisionHalf {
		half = pgvector.NewHalfVector(emb.Embedding)
	} else {
		full = pgvector.NewVector(emb.Embedding)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO embeddings (photo_id, project_id, embedding, embedding_half, model, dim, content_hash)
		VALUES ($1, $2, $3::vector, $4::halfvec, $5, $6, $7)
		ON CONFLICT (photo_id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			embedding = EXCLUDED.embedding,
			embedding_half = EXCLUDED.embedding_half,
			model = EXCLUDED.model,
			dim = EXCLUDED.dim,
			content_hash = EXCLUDED.content_hash,
			created_at = NOW()
	`, emb.PhotoID, emb.ProjectID, full, half, emb.Model, emb.Dim, emb.ContentHash); err != nil {
		return &database.PersistenceError{Op: "save embedding", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &database.PersistenceError{Op: "commit embedding", Err: err}
	}
	return nil
}

// Delete removes the embedding for a photo
func (r *EmbeddingRepository) Delete(ctx context.Context, photoID int64) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM embeddings WHERE photo_id = $1", photoID); err != nil {
		return &database.PersistenceError{Op: "delete embedding", Err: err}
	}
	return nil
}

// DeleteBatch removes embeddings for many photos in one statement
func (r *EmbeddingRepository) DeleteBatch(ctx context.Context, photoIDs []int64) (int, error) {
	if len(photoIDs) == 0 {
		return 0, nil
	}
	res, err := r.pool.Exec(ctx, "DELETE FROM embeddings WHERE photo_id = ANY($1)", pq.Array(photoIDs))
	if err != nil {
		return 0, &database.PersistenceError{Op: "delete embeddings batch", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &database.PersistenceError{Op: "count deleted embeddings", Err: err}
	}
	return int(n), nil
}

// ListFullPrecision returns up to limit photo IDs still stored in full
// precision, in ascending ID order. Used to drive the migration in batches.
func (r *EmbeddingRepository) ListFullPrecision(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT photo_id FROM embeddings
		WHERE dim > 0
		ORDER BY photo_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query full-precision embeddings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan photo ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo IDs: %w", err)
	}
	return ids, nil
}

// Stats returns global storage statistics
func (r *EmbeddingRepository) Stats(ctx context.Context) (*database.StorageStats, error) {
	var stats database.StorageStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE dim > 0),
		       COUNT(*) FILTER (WHERE dim < 0)
		FROM embeddings
	`).Scan(&stats.TotalEmbeddings, &stats.FullPrecision, &stats.HalfPrecision)
	if err != nil {
		return nil, fmt.Errorf("query storage stats: %w", err)
	}
	stats.SpaceSavedPct = spaceSavedPct(stats.TotalEmbeddings, stats.HalfPrecision)
	return &stats, nil
}

// ProjectStats returns embedding storage statistics scoped to one project.
// Catalog-derived numbers (photo count, coverage, staleness) are filled in
// by the embedding service, which has access to the photo catalog.
func (r *EmbeddingRepository) ProjectStats(ctx context.Context, projectID int64) (*database.ProjectStats, error) {
	stats := database.ProjectStats{ProjectID: projectID}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE dim > 0),
		       COUNT(*) FILTER (WHERE dim < 0)
		FROM embeddings
		WHERE project_id = $1
	`, projectID).Scan(&stats.TotalEmbeddings, &stats.FullPrecision, &stats.HalfPrecision)
	if err != nil {
		return nil, fmt.Errorf("query project storage stats: %w", err)
	}
	stats.SpaceSavedPct = spaceSavedPct(stats.TotalEmbeddings, stats.HalfPrecision)

	model, err := r.CanonicalModel(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stats.CanonicalModel = model
	return &stats, nil
}

// spaceSavedPct reports savings against an all-full-precision baseline;
// each half-precision row stores its vector in half the bytes.
func spaceSavedPct(total, half int) float64 {
	if total == 0 {
		return 0
	}
	return float64(half) / float64(total) * 50.0
}

// Verify interface compliance
var _ database.EmbeddingReader = (*EmbeddingRepository)(nil)
var _ database.EmbeddingWriter = (*EmbeddingRepository)(nil)
