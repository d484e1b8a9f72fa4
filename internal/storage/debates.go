package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kioku-ai/kioku/internal/model"
)

// GetOrCreateDebate returns the debate for (resourceID, resourceType),
// creating it if absent. Concurrent first contributions are serialized by
// the unique constraint on the pair: the loser of the insert race refetches
// the winner's row, so the conflict is never surfaced.
func (db *DB) GetOrCreateDebate(ctx context.Context, resourceID string, resourceType model.ItemType) (model.Debate, error) {
	d, err := db.getDebateByResource(ctx, resourceID, resourceType)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Debate{}, err
	}

	d = model.Debate{
		ID:           uuid.New(),
		ResourceID:   resourceID,
		ResourceType: resourceType,
		Status:       model.DebateOpen,
	}
	err = db.pool.QueryRow(ctx,
		`INSERT INTO debates (id, resource_id, resource_type, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		d.ID, d.ResourceID, d.ResourceType, d.Status,
	).Scan(&d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race; another caller created the row.
			return db.getDebateByResource(ctx, resourceID, resourceType)
		}
		return model.Debate{}, fmt.Errorf("storage: create debate: %w", err)
	}
	return d, nil
}

func (db *DB) getDebateByResource(ctx context.Context, resourceID string, resourceType model.ItemType) (model.Debate, error) {
	var d model.Debate
	err := db.pool.QueryRow(ctx,
		`SELECT id, resource_id, resource_type, status, message_count, judge_triggered_at, created_at
		 FROM debates WHERE resource_id = $1 AND resource_type = $2`,
		resourceID, resourceType,
	).Scan(&d.ID, &d.ResourceID, &d.ResourceType, &d.Status, &d.MessageCount, &d.JudgeTriggeredAt, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Debate{}, ErrNotFound
		}
		return model.Debate{}, fmt.Errorf("storage: get debate by resource: %w", err)
	}
	return d, nil
}

// GetDebate retrieves a debate by id.
func (db *DB) GetDebate(ctx context.Context, id uuid.UUID) (model.Debate, error) {
	var d model.Debate
	err := db.pool.QueryRow(ctx,
		`SELECT id, resource_id, resource_type, status, message_count, judge_triggered_at, created_at
		 FROM debates WHERE id = $1`, id,
	).Scan(&d.ID, &d.ResourceID, &d.ResourceType, &d.Status, &d.MessageCount, &d.JudgeTriggeredAt, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Debate{}, ErrNotFound
		}
		return model.Debate{}, fmt.Errorf("storage: get debate: %w", err)
	}
	return d, nil
}

// AppendMessage inserts a message and atomically increments the debate's
// message_count inside one transaction, returning the new count. The count
// lives in the store, not in process memory, so concurrent contributors see
// a strictly increasing sequence and exactly one of them observes the
// judge-trigger threshold.
func (db *DB) AppendMessage(ctx context.Context, m model.DebateMessage) (model.DebateMessage, int, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	var newCount int
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		err = tx.QueryRow(ctx,
			`UPDATE debates SET message_count = message_count + 1
			 WHERE id = $1
			 RETURNING message_count`, m.DebateID,
		).Scan(&newCount)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("storage: increment message count: %w", err)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO debate_messages (id, debate_id, contributor_id, contributor_type, stance, argument)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING created_at`,
			m.ID, m.DebateID, m.ContributorID, m.ContributorType, m.Stance, m.Argument,
		).Scan(&m.CreatedAt)
		if err != nil {
			return fmt.Errorf("storage: insert message: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return model.DebateMessage{}, 0, err
	}
	return m, newCount, nil
}

// ListMessages returns a debate's messages ordered ascending by creation time.
func (db *DB) ListMessages(ctx context.Context, debateID uuid.UUID) ([]model.DebateMessage, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, debate_id, contributor_id, contributor_type, stance, argument, created_at
		 FROM debate_messages WHERE debate_id = $1 ORDER BY created_at, id`, debateID)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.DebateMessage
	for rows.Next() {
		var m model.DebateMessage
		if err := rows.Scan(&m.ID, &m.DebateID, &m.ContributorID, &m.ContributorType, &m.Stance, &m.Argument, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// FinalizeJudgment transitions a debate from open to judged and persists its
// judgment in a single transaction. The status guard in the UPDATE makes the
// transition exactly-once: a second caller finds zero rows updated and
// returns applied=false without writing anything.
func (db *DB) FinalizeJudgment(ctx context.Context, j model.DebateJudgment) (applied bool, err error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE debates SET status = 'judged', judge_triggered_at = now()
		 WHERE id = $1 AND status = 'open'`, j.DebateID)
	if err != nil {
		return false, fmt.Errorf("storage: mark debate judged: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO debate_judgments (id, debate_id, score, accuracy_score, relevance_score,
		 completeness_score, clarity_score, confidence, summary, suggested_action, action_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		j.ID, j.DebateID, j.Score, j.AccuracyScore, j.RelevanceScore,
		j.CompletenessScore, j.ClarityScore, j.Confidence, j.Summary, j.SuggestedAction, j.ActionReason,
	)
	if err != nil {
		return false, fmt.Errorf("storage: insert judgment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit judgment: %w", err)
	}
	return true, nil
}

// GetJudgment retrieves the judgment for a debate, if one exists.
func (db *DB) GetJudgment(ctx context.Context, debateID uuid.UUID) (model.DebateJudgment, error) {
	var j model.DebateJudgment
	err := db.pool.QueryRow(ctx,
		`SELECT id, debate_id, score, accuracy_score, relevance_score, completeness_score,
		 clarity_score, confidence, summary, suggested_action, action_reason, created_at
		 FROM debate_judgments WHERE debate_id = $1`, debateID,
	).Scan(&j.ID, &j.DebateID, &j.Score, &j.AccuracyScore, &j.RelevanceScore, &j.CompletenessScore,
		&j.ClarityScore, &j.Confidence, &j.Summary, &j.SuggestedAction, &j.ActionReason, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DebateJudgment{}, ErrNotFound
		}
		return model.DebateJudgment{}, fmt.Errorf("storage: get judgment: %w", err)
	}
	return j, nil
}
