package model

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DebateStatus is the lifecycle state of a debate thread.
type DebateStatus string

const (
	DebateOpen   DebateStatus = "open"
	DebateJudged DebateStatus = "judged"
	DebateClosed DebateStatus = "closed"
)

// ContributorType distinguishes agent and human participants.
type ContributorType string

const (
	ContributorAgent ContributorType = "agent"
	ContributorHuman ContributorType = "human"
)

// ParseContributorType validates a raw contributor type string.
func ParseContributorType(s string) (ContributorType, error) {
	switch ContributorType(s) {
	case ContributorAgent, ContributorHuman:
		return ContributorType(s), nil
	}
	return "", &ValidationError{Field: "contributor_type", Reason: "must be agent or human"}
}

// Stance is a participant's position on the debated resource.
type Stance string

const (
	StanceAgree    Stance = "agree"
	StanceDisagree Stance = "disagree"
	StanceNeutral  Stance = "neutral"
	StanceQuestion Stance = "question"
)

// ParseStance validates a raw stance string.
func ParseStance(s string) (Stance, error) {
	switch Stance(s) {
	case StanceAgree, StanceDisagree, StanceNeutral, StanceQuestion:
		return Stance(s), nil
	}
	return "", &ValidationError{Field: "stance", Reason: "must be agree, disagree, neutral, or question"}
}

// Argument length bounds for debate messages.
const (
	MinArgumentLen = 10
	MaxArgumentLen = 5000
)

// ValidateArgument checks the debate message argument length bounds.
// Counts runes, matching the char_length CHECK on debate_messages.
func ValidateArgument(argument string) error {
	n := utf8.RuneCountInString(argument)
	if n < MinArgumentLen || n > MaxArgumentLen {
		return &ValidationError{
			Field:  "argument",
			Reason: "length must be between 10 and 5000 characters",
		}
	}
	return nil
}

// SuggestedAction is the follow-up a judgment recommends for the resource.
type SuggestedAction string

const (
	ActionNone      SuggestedAction = "none"
	ActionReview    SuggestedAction = "review"
	ActionUpdate    SuggestedAction = "update"
	ActionDeprecate SuggestedAction = "deprecate"
)

// JudgeThreshold is the message count at which judgment dispatch fires.
const JudgeThreshold = 3

// Debate is a discussion thread attached to exactly one knowledge item.
// One debate exists per (resource_id, resource_type) pair, enforced by a
// unique constraint in the store.
type Debate struct {
	ID               uuid.UUID    `json:"id"`
	ResourceID       string       `json:"resource_id"`
	ResourceType     ItemType     `json:"resource_type"`
	Status           DebateStatus `json:"status"`
	MessageCount     int          `json:"message_count"`
	JudgeTriggeredAt *time.Time   `json:"judge_triggered_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// DebateMessage is one append-only contribution to a debate.
type DebateMessage struct {
	ID              uuid.UUID       `json:"id"`
	DebateID        uuid.UUID       `json:"debate_id"`
	ContributorID   string          `json:"contributor_id"`
	ContributorType ContributorType `json:"contributor_type"`
	Stance          Stance          `json:"stance"`
	Argument        string          `json:"argument"`
	CreatedAt       time.Time       `json:"created_at"`
}

// DebateJudgment is the deterministic evaluation produced exactly once at
// the open -> judged transition.
type DebateJudgment struct {
	ID                uuid.UUID       `json:"id"`
	DebateID          uuid.UUID       `json:"debate_id"`
	Score             int             `json:"score"`
	AccuracyScore     int             `json:"accuracy_score"`
	RelevanceScore    int             `json:"relevance_score"`
	CompletenessScore int             `json:"completeness_score"`
	ClarityScore      int             `json:"clarity_score"`
	Confidence        float64         `json:"confidence"`
	Summary           string          `json:"summary"`
	SuggestedAction   SuggestedAction `json:"suggested_action"`
	ActionReason      string          `json:"action_reason"`
	CreatedAt         time.Time       `json:"created_at"`
}
