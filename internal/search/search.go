// Package search provides an optional external ANN index for failure
// embeddings. Postgres remains the source of truth: the index returns
// candidate failure ids plus raw similarity scores, and the caller hydrates
// full rows from the store.
package search

import "context"

// Result holds a failure id and its raw cosine similarity from the index.
type Result struct {
	FailureID string
	Score     float32
}

// FailureIndex is the interface for vector search over failure embeddings.
// Implementations must be safe for concurrent use.
type FailureIndex interface {
	// Search returns failure ids similar to the query embedding, optionally
	// restricted to a single error pattern.
	Search(ctx context.Context, embedding []float32, pattern string, limit int) ([]Result, error)

	// Upsert inserts or replaces index entries for failures.
	Upsert(ctx context.Context, points []Point) error

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}
