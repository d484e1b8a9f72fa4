package kioku

import "time"

// IndexResult holds a failure id and similarity score from a FailureIndex.
type IndexResult struct {
	FailureID string
	Score     float32
}

// IndexPoint is one failure entry to upsert into a FailureIndex.
// All fields are primitive or stdlib types — no internal package imports.
type IndexPoint struct {
	FailureID  string
	Pattern    string
	ResolvedAt time.Time
	Embedding  []float32
}
