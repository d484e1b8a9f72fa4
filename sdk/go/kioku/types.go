package kioku

import (
	"time"

	"github.com/google/uuid"
)

// Relationship is a directed typed edge between two knowledge items.
type Relationship struct {
	ID               int64     `json:"id"`
	FromID           string    `json:"from_id"`
	FromType         string    `json:"from_type"`
	ToID             string    `json:"to_id"`
	ToType           string    `json:"to_type"`
	RelationshipType string    `json:"relationship_type"`
	Strength         float64   `json:"strength"`
	CreatedAt        time.Time `json:"created_at"`
}

// RelatedItem is an item reached by graph traversal.
type RelatedItem struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Relationship string  `json:"relationship"`
	Strength     float64 `json:"strength"`
}

// GraphNode is a node in a graph export.
type GraphNode struct {
	ID     string   `json:"id"`
	Type   string   `json:"type"`
	Status string   `json:"status"`
	Tags   []string `json:"tags"`
}

// GraphExport is the full node and edge set of the knowledge graph.
type GraphExport struct {
	Nodes []GraphNode    `json:"nodes"`
	Edges []Relationship `json:"edges"`
}

// CreateRelationshipRequest is the body for CreateRelationship.
// Strength defaults to 1.0 server-side when zero.
type CreateRelationshipRequest struct {
	FromID           string  `json:"from_id"`
	FromType         string  `json:"from_type"`
	ToID             string  `json:"to_id"`
	ToType           string  `json:"to_type"`
	RelationshipType string  `json:"relationship_type"`
	Strength         float64 `json:"strength,omitempty"`
}

// AutoLinkResult reports the relationships created by an autolink scan.
type AutoLinkResult struct {
	Created []Relationship `json:"created"`
	Count   int            `json:"count"`
}

// Debate is a discussion thread attached to a knowledge item.
type Debate struct {
	ID               uuid.UUID  `json:"id"`
	ResourceID       string     `json:"resource_id"`
	ResourceType     string     `json:"resource_type"`
	Status           string     `json:"status"`
	MessageCount     int        `json:"message_count"`
	JudgeTriggeredAt *time.Time `json:"judge_triggered_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DebateMessage is a single contribution to a debate.
type DebateMessage struct {
	ID              uuid.UUID `json:"id"`
	DebateID        uuid.UUID `json:"debate_id"`
	ContributorID   string    `json:"contributor_id"`
	ContributorType string    `json:"contributor_type"`
	Stance          string    `json:"stance"`
	Argument        string    `json:"argument"`
	CreatedAt       time.Time `json:"created_at"`
}

// Judgment is the arbitration verdict for a judged debate.
type Judgment struct {
	ID                uuid.UUID `json:"id"`
	DebateID          uuid.UUID `json:"debate_id"`
	Score             int       `json:"score"`
	AccuracyScore     int       `json:"accuracy_score"`
	RelevanceScore    int       `json:"relevance_score"`
	CompletenessScore int       `json:"completeness_score"`
	ClarityScore      int       `json:"clarity_score"`
	Confidence        float64   `json:"confidence"`
	Summary           string    `json:"summary"`
	SuggestedAction   string    `json:"suggested_action"`
	ActionReason      string    `json:"action_reason"`
	CreatedAt         time.Time `json:"created_at"`
}

// ContributeRequest is the body for Contribute. Contributor identity is
// taken from the bearer token, not the body.
type ContributeRequest struct {
	Stance   string `json:"stance"`
	Argument string `json:"argument"`
}

// Contribution is the debate state after a message is appended.
type Contribution struct {
	Debate  Debate        `json:"debate"`
	Message DebateMessage `json:"message"`
}

// DebateDetail is the full view of a debate thread. Judgment is nil
// until the debate has been judged.
type DebateDetail struct {
	Debate   Debate          `json:"debate"`
	Messages []DebateMessage `json:"messages"`
	Judgment *Judgment       `json:"judgment,omitempty"`
}

// RemediateRequest is the body for Remediate.
type RemediateRequest struct {
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
}

// FailureMatch is a resolved failure similar to the reported error.
type FailureMatch struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Pattern    string  `json:"pattern"`
	Resolution string  `json:"resolution"`
	Similarity float64 `json:"similarity"`
}

// RemediationReport is the result of matching an error against the
// failure knowledge base.
type RemediationReport struct {
	Pattern   string         `json:"pattern"`
	Severity  string         `json:"severity"`
	Matches   []FailureMatch `json:"matches"`
	Checklist []string       `json:"checklist"`
}

// HealthResponse is the server's health status.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int    `json:"uptime_seconds"`
}
