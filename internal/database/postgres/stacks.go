package postgres

import (
	"context"
	"fmt"

	"github.com/photostacks/photostacks/internal/database"
)

// StackRepository provides PostgreSQL-backed stack persistence.
type StackRepository struct {
	pool *Pool
}

// NewStackRepository creates a new PostgreSQL stack repository
func NewStackRepository(pool *Pool) *StackRepository {
	return &StackRepository{pool: pool}
}

// CreateStack persists a stack with its members in one transaction
func (r *StackRepository) CreateStack(ctx context.Context, stack *database.Stack) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, &database.PersistenceError{Op: "begin stack transaction", Err: err}
	}
	defer tx.Rollback()

	var stackID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO stacks (project_id, stack_type, representative_photo_id, rule_version, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, stack.ProjectID, stack.Type, stack.RepresentativePhotoID, stack.RuleVersion, stack.CreatedBy).Scan(&stackID)
	if err != nil {
		return 0, &database.PersistenceError{Op: "insert stack", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stack_members (stack_id, photo_id, similarity_score, rank)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return 0, &database.PersistenceError{Op: "prepare member insert", Err: err}
	}
	defer stmt.Close()

	for _, m := range stack.Members {
		if _, err := stmt.ExecContext(ctx, stackID, m.PhotoID, m.SimilarityScore, m.Rank); err != nil {
			return 0, &database.PersistenceError{Op: fmt.Sprintf("insert stack member %d", m.PhotoID), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &database.PersistenceError{Op: "commit stack", Err: err}
	}
	return stackID, nil
}

// ClearStacks deletes all stacks of the project with the given type and rule
// version; members cascade. Returns the number of stacks deleted.
func (r *StackRepository) ClearStacks(ctx context.Context, projectID int64, stackType database.StackType, ruleVersion string) (int, error) {
	res, err := r.pool.Exec(ctx, `
		DELETE FROM stacks
		WHERE project_id = $1 AND stack_type = $2 AND rule_version = $3
	`, projectID, stackType, ruleVersion)
	if err != nil {
		return 0, &database.PersistenceError{Op: "clear stacks", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &database.PersistenceError{Op: "count cleared stacks", Err: err}
	}
	return int(n), nil
}

// ListStacks returns stacks of the project with members, newest first.
// An empty stackType matches all types.
func (r *StackRepository) ListStacks(ctx context.Context, projectID int64, stackType database.StackType) ([]database.Stack, error) {
	query := `
		SELECT id, project_id, stack_type, representative_photo_id, rule_version, created_by, created_at
		FROM stacks
		WHERE project_id = $1
	`
	args := []any{projectID}
	if stackType != "" {
		query += " AND stack_type = $2"
		args = append(args, stackType)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stacks: %w", err)
	}
	defer rows.Close()

	var stacks []database.Stack
	byID := make(map[int64]int)
	for rows.Next() {
		var s database.Stack
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Type, &s.RepresentativePhotoID,
			&s.RuleVersion, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stack: %w", err)
		}
		byID[s.ID] = len(stacks)
		stacks = append(stacks, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stacks: %w", err)
	}

	if len(stacks) == 0 {
		return stacks, nil
	}

	memberRows, err := r.pool.Query(ctx, `
		SELECT m.stack_id, m.photo_id, m.similarity_score, m.rank
		FROM stack_members m
		JOIN stacks s ON s.id = m.stack_id
		WHERE s.project_id = $1
		ORDER BY m.stack_id, m.rank NULLS LAST, m.photo_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query stack members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var m database.StackMember
		if err := memberRows.Scan(&m.StackID, &m.PhotoID, &m.SimilarityScore, &m.Rank); err != nil {
			return nil, fmt.Errorf("scan stack member: %w", err)
		}
		if idx, ok := byID[m.StackID]; ok {
			stacks[idx].Members = append(stacks[idx].Members, m)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stack members: %w", err)
	}

	return stacks, nil
}

// Verify interface compliance
var _ database.StackWriter = (*StackRepository)(nil)
