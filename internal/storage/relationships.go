package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kioku-ai/kioku/internal/model"
)

// CreateRelationship inserts a new edge and returns it with id and
// created_at populated. Always inserts: no dedup of parallel edges.
func (db *DB) CreateRelationship(ctx context.Context, r model.Relationship) (model.Relationship, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO relationships (from_id, from_type, to_id, to_type, relationship_type, strength)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		r.FromID, r.FromType, r.ToID, r.ToType, r.RelationshipType, r.Strength,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return model.Relationship{}, fmt.Errorf("storage: create relationship: %w", err)
	}
	return r, nil
}

// OutgoingRelationships returns all edges leaving (id, type) in insertion order.
func (db *DB) OutgoingRelationships(ctx context.Context, id string, t model.ItemType) ([]model.Relationship, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, from_id, from_type, to_id, to_type, relationship_type, strength, created_at
		 FROM relationships WHERE from_id = $1 AND from_type = $2 ORDER BY id`,
		id, t)
	if err != nil {
		return nil, fmt.Errorf("storage: outgoing relationships: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// AllRelationships returns every edge, for graph export.
func (db *DB) AllRelationships(ctx context.Context) ([]model.Relationship, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, from_id, from_type, to_id, to_type, relationship_type, strength, created_at
		 FROM relationships ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: all relationships: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func scanRelationships(rows pgx.Rows) ([]model.Relationship, error) {
	var rels []model.Relationship
	for rows.Next() {
		var r model.Relationship
		if err := rows.Scan(&r.ID, &r.FromID, &r.FromType, &r.ToID, &r.ToType, &r.RelationshipType, &r.Strength, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}
