package model

import "time"

// API error codes returned in the standard error envelope.
const (
	ErrCodeValidation   = "validation_error"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnavailable  = "collaborator_unavailable"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"
)

// ResponseMeta carries request correlation data on every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateRelationshipRequest is the body of POST /v1/relationships.
type CreateRelationshipRequest struct {
	FromID           string  `json:"from_id"`
	FromType         string  `json:"from_type"`
	ToID             string  `json:"to_id"`
	ToType           string  `json:"to_type"`
	RelationshipType string  `json:"relationship_type"`
	Strength         float64 `json:"strength,omitempty"`
}

// AutoLinkRequest is the body of POST /v1/items/{type}/{id}/autolink.
type AutoLinkRequest struct {
	Content string `json:"content"`
}

// ContributeRequest is the body of POST /v1/debates/{type}/{id}/messages.
// Contributor identity comes from the verified token, not the body.
type ContributeRequest struct {
	Stance   string `json:"stance"`
	Argument string `json:"argument"`
}

// ContributeResponse returns the debate state after a contribution.
type ContributeResponse struct {
	Debate  Debate        `json:"debate"`
	Message DebateMessage `json:"message"`
}

// DebateDetail is the full view of a debate thread.
type DebateDetail struct {
	Debate   Debate          `json:"debate"`
	Messages []DebateMessage `json:"messages"`
	Judgment *DebateJudgment `json:"judgment,omitempty"`
}

// RemediateRequest is the body of POST /v1/remediate.
type RemediateRequest struct {
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
	Pattern    string `json:"pattern,omitempty"` // Optional classification override.
	TopK       int    `json:"top_k,omitempty"`
}
