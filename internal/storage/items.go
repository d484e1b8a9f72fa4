package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kioku-ai/kioku/internal/model"
)

// itemTable maps an item type to its table name. Item types are validated
// at the model boundary, so an unknown type here is a programming error.
func itemTable(t model.ItemType) string {
	switch t {
	case model.ItemTypeADR:
		return "adrs"
	case model.ItemTypeFailure:
		return "failures"
	case model.ItemTypeMeeting:
		return "meetings"
	case model.ItemTypeSnapshot:
		return "snapshots"
	}
	panic(fmt.Sprintf("storage: unknown item type %q", t))
}

// GetItem retrieves the core projection of a knowledge item.
// Returns ErrNotFound if no row matches.
func (db *DB) GetItem(ctx context.Context, id string, t model.ItemType) (model.KnowledgeItem, error) {
	var item model.KnowledgeItem
	item.Type = t
	err := db.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, status, tags, item_date, access_count_30d, reference_count
		 FROM %s WHERE id = $1`, itemTable(t)), id,
	).Scan(&item.ID, &item.Status, &item.Tags, &item.Date, &item.AccessCount30d, &item.ReferenceCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.KnowledgeItem{}, ErrNotFound
		}
		return model.KnowledgeItem{}, fmt.Errorf("storage: get item %s: %w", id, err)
	}
	return item, nil
}

// ListItemsByStatus returns all items of the given type in any of the given
// statuses. Used by the decay sweep to select its live population.
func (db *DB) ListItemsByStatus(ctx context.Context, t model.ItemType, statuses []string) ([]model.KnowledgeItem, error) {
	rows, err := db.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, status, tags, item_date, access_count_30d, reference_count
		 FROM %s WHERE status = ANY($1) ORDER BY id`, itemTable(t)), statuses)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s by status: %w", itemTable(t), err)
	}
	defer rows.Close()

	var items []model.KnowledgeItem
	for rows.Next() {
		var item model.KnowledgeItem
		item.Type = t
		if err := rows.Scan(&item.ID, &item.Status, &item.Tags, &item.Date, &item.AccessCount30d, &item.ReferenceCount); err != nil {
			return nil, fmt.Errorf("storage: scan %s row: %w", itemTable(t), err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListGraphNodes returns up to limit items of the given type projected for
// graph export. Archived items are excluded unless includeArchived is set.
func (db *DB) ListGraphNodes(ctx context.Context, t model.ItemType, includeArchived bool, limit int) ([]model.GraphNode, error) {
	query := fmt.Sprintf(
		`SELECT id, status, tags FROM %s`, itemTable(t))
	if !includeArchived {
		query += ` WHERE status <> 'archived'`
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT %d`, limit)

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s nodes: %w", itemTable(t), err)
	}
	defer rows.Close()

	var nodes []model.GraphNode
	for rows.Next() {
		var n model.GraphNode
		n.Type = t
		if err := rows.Scan(&n.ID, &n.Status, &n.Tags); err != nil {
			return nil, fmt.Errorf("storage: scan %s node: %w", itemTable(t), err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// IncrementAccessCounts applies batched access-count increments in one
// round trip. Unknown ids are silently skipped: the item may have been
// deleted between the access and the flush.
func (db *DB) IncrementAccessCounts(ctx context.Context, deltas map[model.ItemRef]int) error {
	if len(deltas) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for ref, n := range deltas {
		batch.Queue(fmt.Sprintf(
			`UPDATE %s SET access_count_30d = access_count_30d + $1 WHERE id = $2`,
			itemTable(ref.Type)), n, ref.ID)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range deltas {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("storage: increment access counts: %w", err)
		}
	}
	return nil
}

// SetItemStatus updates an item's status. Returns ErrNotFound if the item
// does not exist.
func (db *DB) SetItemStatus(ctx context.Context, id string, t model.ItemType, status string) error {
	tag, err := db.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = $1 WHERE id = $2`, itemTable(t)), status, id)
	if err != nil {
		return fmt.Errorf("storage: set %s status: %w", itemTable(t), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
