package debate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/testutil"
)

// fakeStore is a concurrency-safe in-memory Store.
type fakeStore struct {
	mu        sync.Mutex
	debates   map[uuid.UUID]model.Debate
	byRes     map[string]uuid.UUID
	messages  map[uuid.UUID][]model.DebateMessage
	judgments map[uuid.UUID]model.DebateJudgment
	finalized int // FinalizeJudgment calls that applied
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		debates:   make(map[uuid.UUID]model.Debate),
		byRes:     make(map[string]uuid.UUID),
		messages:  make(map[uuid.UUID][]model.DebateMessage),
		judgments: make(map[uuid.UUID]model.DebateJudgment),
	}
}

func (f *fakeStore) GetOrCreateDebate(_ context.Context, resourceID string, resourceType model.ItemType) (model.Debate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := resourceID + "/" + string(resourceType)
	if id, ok := f.byRes[key]; ok {
		return f.debates[id], nil
	}
	d := model.Debate{
		ID:           uuid.New(),
		ResourceID:   resourceID,
		ResourceType: resourceType,
		Status:       model.DebateOpen,
	}
	f.debates[d.ID] = d
	f.byRes[key] = d.ID
	return d, nil
}

func (f *fakeStore) GetDebate(_ context.Context, id uuid.UUID) (model.Debate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.debates[id], nil
}

func (f *fakeStore) AppendMessage(_ context.Context, m model.DebateMessage) (model.DebateMessage, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.New()
	f.messages[m.DebateID] = append(f.messages[m.DebateID], m)
	d := f.debates[m.DebateID]
	d.MessageCount++
	f.debates[m.DebateID] = d
	return m, d.MessageCount, nil
}

func (f *fakeStore) ListMessages(_ context.Context, debateID uuid.UUID) ([]model.DebateMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[debateID], nil
}

func (f *fakeStore) FinalizeJudgment(_ context.Context, j model.DebateJudgment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.debates[j.DebateID]
	if d.Status != model.DebateOpen {
		return false, nil
	}
	d.Status = model.DebateJudged
	f.debates[j.DebateID] = d
	j.ID = uuid.New()
	f.judgments[j.DebateID] = j
	f.finalized++
	return true, nil
}

func (f *fakeStore) GetJudgment(_ context.Context, debateID uuid.UUID) (model.DebateJudgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.judgments[debateID], nil
}

func newService(store Store) *Service {
	return New(store, testutil.TestLogger(), time.Second)
}

func msg(stance model.Stance) model.DebateMessage {
	return model.DebateMessage{Stance: stance}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		stances    []model.Stance
		wantScore  int
		wantAction model.SuggestedAction
	}{
		{
			name:       "unanimous agreement",
			stances:    []model.Stance{model.StanceAgree, model.StanceAgree, model.StanceAgree},
			wantScore:  5,
			wantAction: model.ActionNone,
		},
		{
			name:       "two to one",
			stances:    []model.Stance{model.StanceAgree, model.StanceDisagree, model.StanceAgree},
			wantScore:  4,
			wantAction: model.ActionReview,
		},
		{
			name:       "even split",
			stances:    []model.Stance{model.StanceAgree, model.StanceDisagree},
			wantScore:  3,
			wantAction: model.ActionReview,
		},
		{
			name:       "one to two",
			stances:    []model.Stance{model.StanceAgree, model.StanceDisagree, model.StanceDisagree},
			wantScore:  2,
			wantAction: model.ActionUpdate,
		},
		{
			name:       "unanimous disagreement",
			stances:    []model.Stance{model.StanceDisagree, model.StanceDisagree, model.StanceDisagree},
			wantScore:  1,
			wantAction: model.ActionUpdate,
		},
		{
			name:       "neutral and question excluded from the ratio",
			stances:    []model.Stance{model.StanceNeutral, model.StanceAgree, model.StanceQuestion},
			wantScore:  5,
			wantAction: model.ActionNone,
		},
		{
			name:       "no votable stances",
			stances:    []model.Stance{model.StanceNeutral, model.StanceNeutral, model.StanceQuestion},
			wantScore:  3,
			wantAction: model.ActionReview,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := make([]model.DebateMessage, len(tt.stances))
			for i, s := range tt.stances {
				msgs[i] = msg(s)
			}
			j := Evaluate(msgs)
			assert.Equal(t, tt.wantScore, j.Score)
			assert.Equal(t, tt.wantAction, j.SuggestedAction)
			assert.Equal(t, 3, j.AccuracyScore)
			assert.Equal(t, 0.5, j.Confidence)
			assert.Equal(t, "Auto-generated judgment based on debate content.", j.Summary)
		})
	}
}

func TestEvaluateNoVotesReason(t *testing.T) {
	j := Evaluate([]model.DebateMessage{msg(model.StanceNeutral)})
	assert.Equal(t, "no agree or disagree stances recorded", j.ActionReason)
}

const validArgument = "this decision holds up under the latest load test results"

func addMessage(t *testing.T, svc *Service, debateID uuid.UUID, stance model.Stance) {
	t.Helper()
	_, err := svc.AddMessage(context.Background(), debateID, "agent-1", model.ContributorAgent, stance, validArgument)
	require.NoError(t, err)
}

func TestThirdMessageTriggersJudgment(t *testing.T) {
	store := newFakeStore()
	svc := newService(store)
	ctx := context.Background()

	d, err := svc.GetOrCreateDebate(ctx, "ADR-1", model.ItemTypeADR)
	require.NoError(t, err)

	addMessage(t, svc, d.ID, model.StanceAgree)
	addMessage(t, svc, d.ID, model.StanceDisagree)

	got, err := svc.GetDebate(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DebateOpen, got.Status)

	addMessage(t, svc, d.ID, model.StanceAgree)
	svc.Wait()

	got, err = svc.GetDebate(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DebateJudged, got.Status)

	j, err := svc.GetJudgment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, j.Score)
	assert.Equal(t, model.ActionReview, j.SuggestedAction)
}

func TestFourthMessageDoesNotRejudge(t *testing.T) {
	store := newFakeStore()
	svc := newService(store)
	ctx := context.Background()

	d, err := svc.GetOrCreateDebate(ctx, "FAIL-1", model.ItemTypeFailure)
	require.NoError(t, err)

	for _, s := range []model.Stance{model.StanceAgree, model.StanceAgree, model.StanceAgree} {
		addMessage(t, svc, d.ID, s)
	}
	// Let the third message's judgment land before the debate grows.
	svc.Wait()
	require.Equal(t, 1, store.finalized)

	addMessage(t, svc, d.ID, model.StanceDisagree)
	svc.Wait()

	// No second judgment, and the recorded one is untouched by message four.
	assert.Equal(t, 1, store.finalized)
	j, err := svc.GetJudgment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, j.Score)
	assert.Equal(t, model.ActionNone, j.SuggestedAction)
}

func TestJudgeIsNoOpOnJudgedDebate(t *testing.T) {
	store := newFakeStore()
	svc := newService(store)
	ctx := context.Background()

	d, err := svc.GetOrCreateDebate(ctx, "MEET-1", model.ItemTypeMeeting)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		addMessage(t, svc, d.ID, model.StanceAgree)
	}
	svc.Wait()
	require.Equal(t, 1, store.finalized)

	require.NoError(t, svc.Judge(ctx, d.ID))
	assert.Equal(t, 1, store.finalized)
}

func TestAddMessageValidation(t *testing.T) {
	svc := newService(newFakeStore())
	ctx := context.Background()
	id := uuid.New()
	var verr *model.ValidationError

	_, err := svc.AddMessage(ctx, id, "a", "robot", model.StanceAgree, validArgument)
	require.ErrorAs(t, err, &verr)

	_, err = svc.AddMessage(ctx, id, "a", model.ContributorAgent, "maybe", validArgument)
	require.ErrorAs(t, err, &verr)

	_, err = svc.AddMessage(ctx, id, "a", model.ContributorAgent, model.StanceAgree, "too short")
	require.ErrorAs(t, err, &verr)

	_, err = svc.AddMessage(ctx, id, "a", model.ContributorAgent, model.StanceAgree, strings.Repeat("x", model.MaxArgumentLen+1))
	require.ErrorAs(t, err, &verr)
}

func TestArgumentLengthCountsRunes(t *testing.T) {
	store := newFakeStore()
	svc := newService(store)
	ctx := context.Background()

	d, err := svc.GetOrCreateDebate(ctx, "ADR-9", model.ItemTypeADR)
	require.NoError(t, err)

	// Nine runes but 27 bytes: still too short.
	var verr *model.ValidationError
	_, err = svc.AddMessage(ctx, d.ID, "a", model.ContributorAgent, model.StanceAgree, strings.Repeat("合", 9))
	require.ErrorAs(t, err, &verr)

	// Exactly the rune bounds are accepted, multibyte or not.
	_, err = svc.AddMessage(ctx, d.ID, "a", model.ContributorAgent, model.StanceAgree, strings.Repeat("合", model.MinArgumentLen))
	require.NoError(t, err)
	_, err = svc.AddMessage(ctx, d.ID, "a", model.ContributorAgent, model.StanceAgree, strings.Repeat("合", model.MaxArgumentLen))
	require.NoError(t, err)
}

func TestGetOrCreateDebateIsIdempotent(t *testing.T) {
	svc := newService(newFakeStore())
	ctx := context.Background()

	d1, err := svc.GetOrCreateDebate(ctx, "SNAP-1", model.ItemTypeSnapshot)
	require.NoError(t, err)
	d2, err := svc.GetOrCreateDebate(ctx, "SNAP-1", model.ItemTypeSnapshot)
	require.NoError(t, err)
	assert.Equal(t, d1.ID, d2.ID)
}

func TestGetOrCreateDebateValidation(t *testing.T) {
	svc := newService(newFakeStore())
	var verr *model.ValidationError

	_, err := svc.GetOrCreateDebate(context.Background(), "ADR-1", "proposal")
	require.ErrorAs(t, err, &verr)

	_, err = svc.GetOrCreateDebate(context.Background(), "", model.ItemTypeADR)
	require.ErrorAs(t, err, &verr)
}
