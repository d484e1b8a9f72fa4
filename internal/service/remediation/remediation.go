// Package remediation classifies incoming errors and retrieves similar
// resolved failures by vector similarity.
//
// Classification is a fixed keyword table; retrieval embeds the error
// context and queries resolved failures by ascending vector distance,
// using an external ANN index when one is configured and the Postgres
// pgvector path otherwise.
package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/metric"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/search"
	"github.com/kioku-ai/kioku/internal/service/embedding"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/internal/telemetry"
)

// DefaultTopK is the match count when callers do not specify one.
const DefaultTopK = 5

// Store is the storage surface the matcher needs.
type Store interface {
	SearchResolvedFailures(ctx context.Context, embedding pgvector.Vector, pattern *model.ErrorPattern, limit int) ([]storage.FailureDistance, error)
	GetFailuresByIDs(ctx context.Context, ids []string) (map[string]model.Failure, error)
	ListFailuresMissingEmbedding(ctx context.Context, limit int) ([]model.Failure, error)
	ListEmbeddedResolvedFailures(ctx context.Context) ([]model.Failure, error)
	SetFailureEmbedding(ctx context.Context, id string, embedding pgvector.Vector) error
}

// Service matches incoming errors against past resolutions.
type Service struct {
	store    Store
	embedder embedding.Provider
	index    search.FailureIndex // nil = Postgres pgvector path
	logger   *slog.Logger

	embeddingDuration metric.Float64Histogram
	searchDuration    metric.Float64Histogram
}

// New creates a remediation Service. index may be nil if no external ANN
// index is configured.
func New(store Store, embedder embedding.Provider, index search.FailureIndex, logger *slog.Logger) *Service {
	meter := telemetry.Meter("kioku/remediation")
	embDur, _ := meter.Float64Histogram("kioku.remediation.embedding.duration",
		metric.WithDescription("Time to embed error context (ms)"),
		metric.WithUnit("ms"),
	)
	searchDur, _ := meter.Float64Histogram("kioku.remediation.search.duration",
		metric.WithDescription("Time to retrieve similar failures (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		store:             store,
		embedder:          embedder,
		index:             index,
		logger:            logger,
		embeddingDuration: embDur,
		searchDuration:    searchDur,
	}
}

// Remediate classifies the error and returns the topK most similar resolved
// failures plus the static checklist for the pattern. patternOverride, when
// non-nil, skips classification. Fails with CollaboratorUnavailable if the
// embedding service or the store is unreachable: there is no degraded
// text-only fallback, a partial match list would be worse than an error.
func (s *Service) Remediate(ctx context.Context, message, stackTrace string, patternOverride *model.ErrorPattern, topK int) (model.RemediationReport, error) {
	text := joinContext(message, stackTrace)
	if text == "" {
		return model.RemediationReport{}, &model.ValidationError{
			Field:  "message",
			Reason: "message and stack_trace must not both be empty",
		}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	pattern := model.PatternUnknown
	if patternOverride != nil {
		pattern = *patternOverride
	} else {
		pattern = ClassifyPattern(message, stackTrace)
	}

	embStart := time.Now()
	vec, err := s.embedder.Embed(ctx, text)
	s.embeddingDuration.Record(ctx, float64(time.Since(embStart).Milliseconds()))
	if err != nil {
		return model.RemediationReport{}, &model.CollaboratorUnavailable{Collaborator: "embedding service", Err: err}
	}

	searchStart := time.Now()
	matches, err := s.findMatches(ctx, vec, pattern, topK)
	s.searchDuration.Record(ctx, float64(time.Since(searchStart).Milliseconds()))
	if err != nil {
		return model.RemediationReport{}, err
	}

	s.logger.Debug("remediation match complete",
		"pattern", pattern, "matches", len(matches))

	return model.RemediationReport{
		Pattern:   pattern,
		Severity:  ClassifySeverity(pattern),
		Matches:   matches,
		Checklist: Checklist(pattern),
	}, nil
}

// findMatches retrieves similar resolved failures, preferring the external
// ANN index when configured. The pattern pre-filter is applied only when
// classification produced a known pattern.
func (s *Service) findMatches(ctx context.Context, vec pgvector.Vector, pattern model.ErrorPattern, topK int) ([]model.FailureMatch, error) {
	var patternFilter *model.ErrorPattern
	if pattern != model.PatternUnknown {
		patternFilter = &pattern
	}

	if s.index != nil {
		return s.findViaIndex(ctx, vec, patternFilter, topK)
	}

	results, err := s.store.SearchResolvedFailures(ctx, vec, patternFilter, topK)
	if err != nil {
		return nil, &model.CollaboratorUnavailable{Collaborator: "knowledge store", Err: err}
	}

	matches := make([]model.FailureMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, model.FailureMatch{
			ID:         r.Failure.ID,
			Title:      r.Failure.Title,
			Pattern:    r.Failure.Pattern,
			Resolution: r.Failure.Resolution,
			Similarity: roundSimilarity(1 - r.Distance),
		})
	}
	return matches, nil
}

// findViaIndex queries the ANN index for candidates, then hydrates rows from
// the store, which remains the source of truth.
func (s *Service) findViaIndex(ctx context.Context, vec pgvector.Vector, patternFilter *model.ErrorPattern, topK int) ([]model.FailureMatch, error) {
	var filterStr string
	if patternFilter != nil {
		filterStr = string(*patternFilter)
	}

	results, err := s.index.Search(ctx, vec.Slice(), filterStr, topK)
	if err != nil {
		return nil, &model.CollaboratorUnavailable{Collaborator: "search index", Err: err}
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.FailureID)
	}
	failures, err := s.store.GetFailuresByIDs(ctx, ids)
	if err != nil {
		return nil, &model.CollaboratorUnavailable{Collaborator: "knowledge store", Err: err}
	}

	matches := make([]model.FailureMatch, 0, len(results))
	for _, r := range results {
		f, ok := failures[r.FailureID]
		if !ok || f.Status != model.StatusResolved {
			// Index entry lagging behind a delete or a status change.
			continue
		}
		matches = append(matches, model.FailureMatch{
			ID:         f.ID,
			Title:      f.Title,
			Pattern:    f.Pattern,
			Resolution: f.Resolution,
			Similarity: roundSimilarity(float64(r.Score)),
		})
	}
	return matches, nil
}

// backfillBatch bounds how many failures one Backfill call embeds.
const backfillBatch = 500

// Backfill embeds resolved failures that are missing an embedding and, when
// an external index is configured, re-syncs it from the store. Safe to call
// repeatedly; already-embedded rows are skipped. Individual embedding
// failures are logged and skipped so one bad row cannot stall the rest.
func (s *Service) Backfill(ctx context.Context) error {
	missing, err := s.store.ListFailuresMissingEmbedding(ctx, backfillBatch)
	if err != nil {
		return fmt.Errorf("remediation: backfill: %w", err)
	}

	embedded := 0
	for _, f := range missing {
		vec, err := s.embedder.Embed(ctx, joinContext(f.Title, f.Description))
		if err != nil {
			s.logger.Warn("backfill: embed failed", "failure_id", f.ID, "error", err)
			continue
		}
		if err := s.store.SetFailureEmbedding(ctx, f.ID, vec); err != nil {
			s.logger.Warn("backfill: store embedding failed", "failure_id", f.ID, "error", err)
			continue
		}
		embedded++
	}

	if s.index == nil {
		if embedded > 0 {
			s.logger.Info("backfill complete", "embedded", embedded)
		}
		return nil
	}

	rows, err := s.store.ListEmbeddedResolvedFailures(ctx)
	if err != nil {
		return fmt.Errorf("remediation: backfill index sync: %w", err)
	}
	points := make([]search.Point, 0, len(rows))
	for _, f := range rows {
		if f.Embedding == nil {
			continue
		}
		p := search.Point{
			FailureID: f.ID,
			Pattern:   string(f.Pattern),
			Embedding: f.Embedding.Slice(),
		}
		if f.ResolvedAt != nil {
			p.ResolvedAt = *f.ResolvedAt
		}
		points = append(points, p)
	}
	if len(points) > 0 {
		if err := s.index.Upsert(ctx, points); err != nil {
			return fmt.Errorf("remediation: backfill index upsert: %w", err)
		}
	}

	s.logger.Info("backfill complete", "embedded", embedded, "indexed", len(points))
	return nil
}

// roundSimilarity rounds to two decimals.
func roundSimilarity(sim float64) float64 {
	return math.Round(sim*100) / 100
}
