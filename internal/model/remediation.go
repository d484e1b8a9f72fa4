package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// ErrorPattern is the classified category of an error signature.
type ErrorPattern string

const (
	PatternDatabaseError       ErrorPattern = "database_error"
	PatternConnectionError     ErrorPattern = "connection_error"
	PatternResourceExhaustion  ErrorPattern = "resource_exhaustion"
	PatternAuthenticationError ErrorPattern = "authentication_error"
	PatternNotFound            ErrorPattern = "not_found"
	PatternServerError         ErrorPattern = "server_error"
	PatternRuntimePanic        ErrorPattern = "runtime_panic"
	PatternPerformance         ErrorPattern = "performance"
	PatternUnknown             ErrorPattern = "unknown"
)

// Severity ranks how urgent a classified error pattern is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Failure is the projection of a failure item used by the remediation path.
// Embedding covers the failure's description and resolution text.
type Failure struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Pattern     ErrorPattern     `json:"error_pattern"`
	Resolution  string           `json:"resolution"`
	Status      string           `json:"status"`
	Embedding   *pgvector.Vector `json:"-"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}

// FailureMatch is one resolved failure retrieved by vector similarity.
type FailureMatch struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Pattern    ErrorPattern `json:"pattern"`
	Resolution string       `json:"resolution"`
	Similarity float64      `json:"similarity"`
}

// RemediationReport is the full result of matching an incoming error
// against past resolutions.
type RemediationReport struct {
	Pattern   ErrorPattern   `json:"pattern"`
	Severity  Severity       `json:"severity"`
	Matches   []FailureMatch `json:"matches"`
	Checklist []string       `json:"checklist"`
}
