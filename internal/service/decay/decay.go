// Package decay implements the relevance-decay sweep that retires stale
// knowledge items.
//
// The score is a deliberately simple, reproducible heuristic: it buys
// age-based archival and usage-based retention without any model inference.
package decay

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/telemetry"
)

// ArchiveThreshold is the score below which an item is archived.
const ArchiveThreshold = 30

// sweepConcurrency bounds parallel item evaluations within one sweep.
const sweepConcurrency = 8

// Store is the storage surface the decay sweep needs.
type Store interface {
	ListItemsByStatus(ctx context.Context, t model.ItemType, statuses []string) ([]model.KnowledgeItem, error)
	SetItemStatus(ctx context.Context, id string, t model.ItemType, status string) error
}

// Service runs periodic decay sweeps.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	archivedItems metric.Int64Counter
	sweepDuration metric.Float64Histogram
}

// New creates a decay Service.
func New(store Store, logger *slog.Logger) *Service {
	meter := telemetry.Meter("kioku/decay")
	archived, _ := meter.Int64Counter("kioku.decay.archived_items",
		metric.WithDescription("Items archived by decay sweeps"),
	)
	sweepDur, _ := meter.Float64Histogram("kioku.decay.sweep.duration",
		metric.WithDescription("Time to run a full decay sweep (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		store:         store,
		logger:        logger,
		now:           time.Now,
		archivedItems: archived,
		sweepDuration: sweepDur,
	}
}

// Score computes the heuristic relevance score for an item as of now.
//
// The age-only penalty (-50) never crosses the archive threshold by itself:
// an unused year-old item scores 50. Archival therefore requires the
// superseded zeroing, which the sweep's own status filter keeps out of the
// live population. Reproduced as specified; see DESIGN.md.
func Score(item model.KnowledgeItem, now time.Time) int {
	score := 100

	age := now.Sub(item.Date)
	switch {
	case age > 365*24*time.Hour:
		score -= 50
	case age > 180*24*time.Hour:
		score -= 25
	}

	if item.Status == model.StatusSuperseded {
		score = 0
	}

	if item.AccessCount30d > 10 {
		score += 20
	}
	if item.ReferenceCount > 5 {
		score += 15
	}

	return score
}

// sweepPopulations lists the live states swept per item type. Archival is
// one-directional: archived items never re-enter these filters, which makes
// re-running the sweep a no-op for them.
var sweepPopulations = []struct {
	t        model.ItemType
	statuses []string
}{
	{model.ItemTypeADR, []string{model.StatusActive}},
	{model.ItemTypeFailure, []string{model.StatusResolved}},
}

// Sweep evaluates every live item once and archives those scoring below the
// threshold. A single item's failure is logged and never aborts the rest of
// the sweep. Returns the number of items archived.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	start := s.now()
	defer func() {
		s.sweepDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	archived := 0
	for _, pop := range sweepPopulations {
		items, err := s.store.ListItemsByStatus(ctx, pop.t, pop.statuses)
		if err != nil {
			// Listing one population failing shouldn't stop the other.
			s.logger.Warn("decay: list items failed", "item_type", pop.t, "error", err)
			continue
		}

		n, err := s.sweepItems(ctx, items)
		archived += n
		if err != nil {
			return archived, err
		}
	}

	if archived > 0 {
		s.archivedItems.Add(ctx, int64(archived))
	}
	s.logger.Info("decay sweep complete", "archived", archived, "duration", time.Since(start))
	return archived, nil
}

// sweepItems evaluates a population with bounded concurrency. Only context
// cancellation propagates as an error; per-item failures are logged.
func (s *Service) sweepItems(ctx context.Context, items []model.KnowledgeItem) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)

	archived := make([]bool, len(items))
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score := Score(item, s.now())
			if score >= ArchiveThreshold {
				return nil
			}
			if err := s.store.SetItemStatus(gctx, item.ID, item.Type, model.StatusArchived); err != nil {
				s.logger.Warn("decay: archive item failed",
					"item_id", item.ID, "item_type", item.Type, "error", err)
				return nil
			}
			archived[i] = true
			s.logger.Info("archived stale item",
				"item_id", item.ID, "item_type", item.Type, "score", score)
			return nil
		})
	}
	err := g.Wait()

	n := 0
	for _, a := range archived {
		if a {
			n++
		}
	}
	return n, err
}

// Run executes a sweep immediately and then on every tick of interval until
// the context is cancelled. Intended to be launched as a background goroutine
// from main.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("decay sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
