package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/kioku-ai/kioku/internal/model"
)

// FailureDistance pairs a resolved failure with its raw cosine distance to a
// query embedding. Similarity conversion happens in the remediation service.
type FailureDistance struct {
	Failure  model.Failure
	Distance float64
}

// SearchResolvedFailures returns up to limit resolved failures ordered by
// ascending vector distance from the query embedding. When pattern is
// non-nil, results are pre-filtered to that error pattern.
func (db *DB) SearchResolvedFailures(ctx context.Context, embedding pgvector.Vector, pattern *model.ErrorPattern, limit int) ([]FailureDistance, error) {
	query := `SELECT id, title, description, error_pattern, resolution, status, resolved_at,
	          (embedding <=> $1) AS distance
	          FROM failures
	          WHERE status = 'resolved' AND embedding IS NOT NULL`
	args := []any{embedding}
	if pattern != nil {
		query += ` AND error_pattern = $2`
		args = append(args, *pattern)
	}
	query += fmt.Sprintf(` ORDER BY distance LIMIT %d`, limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search resolved failures: %w", err)
	}
	defer rows.Close()

	var results []FailureDistance
	for rows.Next() {
		var fd FailureDistance
		if err := rows.Scan(&fd.Failure.ID, &fd.Failure.Title, &fd.Failure.Description,
			&fd.Failure.Pattern, &fd.Failure.Resolution, &fd.Failure.Status,
			&fd.Failure.ResolvedAt, &fd.Distance); err != nil {
			return nil, fmt.Errorf("storage: scan failure match: %w", err)
		}
		results = append(results, fd)
	}
	return results, rows.Err()
}

// GetFailuresByIDs hydrates failures from the source of truth after an
// external ANN index returned candidate ids. Missing ids are skipped: the
// index can lag behind deletes.
func (db *DB) GetFailuresByIDs(ctx context.Context, ids []string) (map[string]model.Failure, error) {
	if len(ids) == 0 {
		return map[string]model.Failure{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, title, description, error_pattern, resolution, status, resolved_at
		 FROM failures WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: get failures by ids: %w", err)
	}
	defer rows.Close()

	failures := make(map[string]model.Failure, len(ids))
	for rows.Next() {
		var f model.Failure
		if err := rows.Scan(&f.ID, &f.Title, &f.Description, &f.Pattern, &f.Resolution, &f.Status, &f.ResolvedAt); err != nil {
			return nil, fmt.Errorf("storage: scan failure: %w", err)
		}
		failures[f.ID] = f
	}
	return failures, rows.Err()
}

// ListFailuresMissingEmbedding returns up to limit resolved failures that
// have no stored embedding yet, oldest resolution first.
func (db *DB) ListFailuresMissingEmbedding(ctx context.Context, limit int) ([]model.Failure, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, title, description, error_pattern, resolution, status, resolved_at
		 FROM failures
		 WHERE status = 'resolved' AND embedding IS NULL
		 ORDER BY resolved_at NULLS LAST
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list failures missing embedding: %w", err)
	}
	defer rows.Close()

	var failures []model.Failure
	for rows.Next() {
		var f model.Failure
		if err := rows.Scan(&f.ID, &f.Title, &f.Description, &f.Pattern, &f.Resolution, &f.Status, &f.ResolvedAt); err != nil {
			return nil, fmt.Errorf("storage: scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// ListEmbeddedResolvedFailures returns all resolved failures that carry an
// embedding, for external index synchronization.
func (db *DB) ListEmbeddedResolvedFailures(ctx context.Context) ([]model.Failure, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, title, description, error_pattern, resolution, status, resolved_at, embedding
		 FROM failures
		 WHERE status = 'resolved' AND embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("storage: list embedded resolved failures: %w", err)
	}
	defer rows.Close()

	var failures []model.Failure
	for rows.Next() {
		var f model.Failure
		if err := rows.Scan(&f.ID, &f.Title, &f.Description, &f.Pattern, &f.Resolution, &f.Status, &f.ResolvedAt, &f.Embedding); err != nil {
			return nil, fmt.Errorf("storage: scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// SetFailureEmbedding stores the embedding for a failure. Called by the
// ingestion layer after embedding generation; kept here so the index
// backfill tooling shares one write path.
func (db *DB) SetFailureEmbedding(ctx context.Context, id string, embedding pgvector.Vector) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE failures SET embedding = $1 WHERE id = $2`, embedding, id)
	if err != nil {
		return fmt.Errorf("storage: set failure embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFailure retrieves a single failure by id.
func (db *DB) GetFailure(ctx context.Context, id string) (model.Failure, error) {
	var f model.Failure
	err := db.pool.QueryRow(ctx,
		`SELECT id, title, description, error_pattern, resolution, status, resolved_at
		 FROM failures WHERE id = $1`, id,
	).Scan(&f.ID, &f.Title, &f.Description, &f.Pattern, &f.Resolution, &f.Status, &f.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Failure{}, ErrNotFound
		}
		return model.Failure{}, fmt.Errorf("storage: get failure: %w", err)
	}
	return f, nil
}
