// Package debate implements the multi-party debate thread and its
// deterministic arbitration.
//
// A debate is a per-resource state machine: open -> judged fires
// automatically the instant the third message lands, closed is reachable
// only through administrative action outside this core. Judgment converts
// agree/disagree stances into a quality score; argument text is deliberately
// ignored so the outcome is reproducible.
package debate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/telemetry"
)

// DefaultJudgeTimeout bounds a background judgment dispatch.
const DefaultJudgeTimeout = 10 * time.Second

// Store is the storage surface the arbiter needs.
type Store interface {
	GetOrCreateDebate(ctx context.Context, resourceID string, resourceType model.ItemType) (model.Debate, error)
	GetDebate(ctx context.Context, id uuid.UUID) (model.Debate, error)
	AppendMessage(ctx context.Context, m model.DebateMessage) (model.DebateMessage, int, error)
	ListMessages(ctx context.Context, debateID uuid.UUID) ([]model.DebateMessage, error)
	FinalizeJudgment(ctx context.Context, j model.DebateJudgment) (bool, error)
	GetJudgment(ctx context.Context, debateID uuid.UUID) (model.DebateJudgment, error)
}

// Service is the debate arbiter.
type Service struct {
	store        Store
	logger       *slog.Logger
	judgeTimeout time.Duration

	// dispatches tracks in-flight background judgments so shutdown can
	// drain them instead of cancelling.
	dispatches sync.WaitGroup

	judgments metric.Int64Counter
}

// New creates a debate Service. judgeTimeout <= 0 selects the default.
func New(store Store, logger *slog.Logger, judgeTimeout time.Duration) *Service {
	if judgeTimeout <= 0 {
		judgeTimeout = DefaultJudgeTimeout
	}
	meter := telemetry.Meter("kioku/debate")
	judgments, _ := meter.Int64Counter("kioku.debate.judgments",
		metric.WithDescription("Debate judgments produced"),
	)
	return &Service{
		store:        store,
		logger:       logger,
		judgeTimeout: judgeTimeout,
		judgments:    judgments,
	}
}

// GetOrCreateDebate returns the single debate for a resource, creating it on
// first contribution. Races between concurrent first contributions are
// resolved inside the store and never surfaced.
func (s *Service) GetOrCreateDebate(ctx context.Context, resourceID string, resourceType model.ItemType) (model.Debate, error) {
	if _, err := model.ParseItemType(string(resourceType)); err != nil {
		return model.Debate{}, err
	}
	if resourceID == "" {
		return model.Debate{}, &model.ValidationError{Field: "resource_id", Reason: "must not be empty"}
	}
	d, err := s.store.GetOrCreateDebate(ctx, resourceID, resourceType)
	if err != nil {
		return model.Debate{}, fmt.Errorf("debate: %w", err)
	}
	return d, nil
}

// AddMessage validates and appends a contribution. When the appended message
// is the third, judgment is dispatched in the background: the contributor's
// request never waits on it, and a dispatch failure is logged rather than
// surfaced.
func (s *Service) AddMessage(ctx context.Context, debateID uuid.UUID, contributorID string, contributorType model.ContributorType, stance model.Stance, argument string) (model.DebateMessage, error) {
	if _, err := model.ParseContributorType(string(contributorType)); err != nil {
		return model.DebateMessage{}, err
	}
	if _, err := model.ParseStance(string(stance)); err != nil {
		return model.DebateMessage{}, err
	}
	if err := model.ValidateArgument(argument); err != nil {
		return model.DebateMessage{}, err
	}

	msg, newCount, err := s.store.AppendMessage(ctx, model.DebateMessage{
		DebateID:        debateID,
		ContributorID:   contributorID,
		ContributorType: contributorType,
		Stance:          stance,
		Argument:        argument,
	})
	if err != nil {
		return model.DebateMessage{}, fmt.Errorf("debate: %w", err)
	}

	if newCount == model.JudgeThreshold {
		s.dispatchJudge(debateID)
	}
	return msg, nil
}

// dispatchJudge fires a background judgment, detached from the caller's
// context so request cancellation cannot strand a debate at the threshold.
func (s *Service) dispatchJudge(debateID uuid.UUID) {
	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.judgeTimeout)
		defer cancel()
		if err := s.Judge(ctx, debateID); err != nil {
			s.logger.Error("debate: background judgment failed",
				"debate_id", debateID, "error", err)
		}
	}()
}

// Wait blocks until all in-flight judgment dispatches have finished.
// Called during graceful shutdown; new dispatches should have stopped first.
func (s *Service) Wait() {
	s.dispatches.Wait()
}

// Judge evaluates an open debate and persists its judgment exactly once.
// A no-op on debates that are already judged or closed.
func (s *Service) Judge(ctx context.Context, debateID uuid.UUID) error {
	d, err := s.store.GetDebate(ctx, debateID)
	if err != nil {
		return fmt.Errorf("debate: judge: %w", err)
	}
	if d.Status != model.DebateOpen {
		return nil
	}

	msgs, err := s.store.ListMessages(ctx, debateID)
	if err != nil {
		return fmt.Errorf("debate: judge: %w", err)
	}

	j := Evaluate(msgs)
	j.DebateID = debateID

	applied, err := s.store.FinalizeJudgment(ctx, j)
	if err != nil {
		return fmt.Errorf("debate: judge: %w", err)
	}
	if !applied {
		// Another dispatch won the open -> judged transition.
		return nil
	}

	s.judgments.Add(ctx, 1)
	s.logger.Info("debate judged",
		"debate_id", debateID,
		"score", j.Score,
		"suggested_action", j.SuggestedAction,
		"messages", len(msgs))
	return nil
}

// defaultSummary is used for every ratio-based judgment: the heuristic reads
// stance tags only, never argument text.
const defaultSummary = "Auto-generated judgment based on debate content."

// Evaluate computes the deterministic judgment for an ordered message list.
// Neutral and question stances are excluded from the agreement ratio. With
// no votable stances at all, a fixed middle-of-the-road judgment is emitted.
func Evaluate(msgs []model.DebateMessage) model.DebateJudgment {
	agree, disagree := 0, 0
	for _, m := range msgs {
		switch m.Stance {
		case model.StanceAgree:
			agree++
		case model.StanceDisagree:
			disagree++
		}
	}

	j := model.DebateJudgment{
		AccuracyScore:     3,
		RelevanceScore:    3,
		CompletenessScore: 3,
		ClarityScore:      3,
		Confidence:        0.5,
		Summary:           defaultSummary,
	}

	votes := agree + disagree
	if votes == 0 {
		j.Score = 3
		j.SuggestedAction = model.ActionReview
		j.ActionReason = "no agree or disagree stances recorded"
		return j
	}

	ratio := float64(agree) / float64(votes)

	switch {
	case ratio >= 0.8:
		j.Score = 5
	case ratio >= 0.6:
		j.Score = 4
	case ratio >= 0.4:
		j.Score = 3
	case ratio >= 0.2:
		j.Score = 2
	default:
		j.Score = 1
	}

	switch {
	case ratio >= 0.7:
		j.SuggestedAction = model.ActionNone
	case ratio >= 0.4:
		j.SuggestedAction = model.ActionReview
	default:
		j.SuggestedAction = model.ActionUpdate
	}

	j.ActionReason = fmt.Sprintf("agreement ratio %.2f across %d votes", ratio, votes)
	return j
}

// GetDebate retrieves a debate by id.
func (s *Service) GetDebate(ctx context.Context, id uuid.UUID) (model.Debate, error) {
	d, err := s.store.GetDebate(ctx, id)
	if err != nil {
		return model.Debate{}, fmt.Errorf("debate: %w", err)
	}
	return d, nil
}

// GetJudgment retrieves the judgment for a debate.
func (s *Service) GetJudgment(ctx context.Context, debateID uuid.UUID) (model.DebateJudgment, error) {
	j, err := s.store.GetJudgment(ctx, debateID)
	if err != nil {
		return model.DebateJudgment{}, fmt.Errorf("debate: %w", err)
	}
	return j, nil
}

// Messages returns a debate's messages in creation order.
func (s *Service) Messages(ctx context.Context, debateID uuid.UUID) ([]model.DebateMessage, error) {
	msgs, err := s.store.ListMessages(ctx, debateID)
	if err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}
	return msgs, nil
}
