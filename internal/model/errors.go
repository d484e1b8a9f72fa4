package model

import "fmt"

// ValidationError reports a caller-supplied value that failed boundary
// validation. Never retried; surfaced verbatim to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an explicit-id lookup with no match. Distinct from an
// empty traversal result, which is returned as a valid empty slice.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// CollaboratorUnavailable reports a failure in an external collaborator
// (knowledge store or embedding service). Surfaced to the immediate caller;
// retry policy is layered above this core.
type CollaboratorUnavailable struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorUnavailable) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorUnavailable) Unwrap() error {
	return e.Err
}
