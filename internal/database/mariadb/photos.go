package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/photostacks/photostacks/internal/database"
)

// PhotoRepository reads photo records from the MariaDB catalog. The catalog
// is owned by the scanning pipeline; everything here is read-only.
type PhotoRepository struct {
	pool *Pool
}

// NewPhotoRepository creates a new MariaDB photo repository
func NewPhotoRepository(pool *Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

const photoColumns = `id, project_id, taken_at, width, height, size, path, folder_id, COALESCE(content_hash, '')`

func scanPhoto(scan func(dest ...any) error) (*database.Photo, error) {
	var p database.Photo
	var takenAt sql.NullTime

	if err := scan(
		&p.ID,
		&p.ProjectID,
		&takenAt,
		&p.Width,
		&p.Height,
		&p.Size,
		&p.Path,
		&p.FolderID,
		&p.ContentHash,
	); err != nil {
		return nil, err
	}

	if takenAt.Valid {
		t := takenAt.Time
		p.TakenAt = &t
	}
	return &p, nil
}

// GetPhoto returns a single photo record, nil if not found
func (r *PhotoRepository) GetPhoto(ctx context.Context, photoID int64) (*database.Photo, error) {
	row := r.pool.db.QueryRowContext(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE id = ?
	`, photoID)

	photo, err := scanPhoto(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query photo: %w", err)
	}
	return photo, nil
}

// GetPhotos returns records for the given IDs, missing IDs are skipped
func (r *PhotoRepository) GetPhotos(ctx context.Context, photoIDs []int64) (map[int64]*database.Photo, error) {
	result := make(map[int64]*database.Photo, len(photoIDs))
	if len(photoIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(photoIDs))
	args := make([]any, len(photoIDs))
	for i, id := range photoIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM photos
		WHERE id IN (%s)
	`, photoColumns, strings.Join(placeholders, ","))

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		photo, err := scanPhoto(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		result[photo.ID] = photo
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return result, nil
}

// GetProjectPhotos returns all photo records of a project ordered by ID
func (r *PhotoRepository) GetProjectPhotos(ctx context.Context, projectID int64) ([]database.Photo, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE project_id = ?
		ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query project photos: %w", err)
	}
	defer rows.Close()

	var photos []database.Photo
	for rows.Next() {
		photo, err := scanPhoto(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, *photo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return photos, nil
}

// GetPhotosInTimeWindow returns project photos captured within ±windowSeconds
// of the reference timestamp. Photos with unknown capture time never match.
// A folderID of 0 matches any folder; excludeIDs are omitted from the result.
func (r *PhotoRepository) GetPhotosInTimeWindow(ctx context.Context, projectID int64, referenceTS int64,
	windowSeconds int, folderID int64, excludeIDs []int64) ([]database.Photo, error) {

	var sb strings.Builder
	fmt.Fprintf(&sb, `
		SELECT %s
		FROM photos
		WHERE project_id = ?
		  AND taken_at IS NOT NULL
		  AND taken_at BETWEEN FROM_UNIXTIME(?) AND FROM_UNIXTIME(?)
	`, photoColumns)
	args := []any{projectID, referenceTS - int64(windowSeconds), referenceTS + int64(windowSeconds)}

	if folderID != 0 {
		sb.WriteString(" AND folder_id = ?")
		args = append(args, folderID)
	}
	if len(excludeIDs) > 0 {
		placeholders := make([]string, len(excludeIDs))
		for i, id := range excludeIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		fmt.Fprintf(&sb, " AND id NOT IN (%s)", strings.Join(placeholders, ","))
	}
	sb.WriteString(" ORDER BY taken_at, id")

	rows, err := r.pool.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query photos in time window: %w", err)
	}
	defer rows.Close()

	var photos []database.Photo
	for rows.Next() {
		photo, err := scanPhoto(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, *photo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return photos, nil
}

// CountProjectPhotos returns the number of photos in the project.
func (r *PhotoRepository) CountProjectPhotos(ctx context.Context, projectID int64) (int, error) {
	var count int
	err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos WHERE project_id = ?", projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count project photos: %w", err)
	}
	return count, nil
}

// Verify interface compliance
var _ database.PhotoReader = (*PhotoRepository)(nil)
