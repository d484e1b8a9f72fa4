package kioku

import (
	"context"
	"net/http"
)

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// Ollama/OpenAI/noop provider. Uses []float32 (not pgvector.Vector) so
// external consumers do not inherit the pgvector dependency; New() wraps
// it in an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// FailureIndex is a vector search index over resolved failures.
// When provided via WithFailureIndex, replaces the auto-detected Qdrant
// index. Returns failure ids + scores; the caller hydrates full failures
// from Postgres.
type FailureIndex interface {
	Search(ctx context.Context, embedding []float32, pattern string, limit int) ([]IndexResult, error)
	Upsert(ctx context.Context, points []IndexPoint) error
	Healthy(ctx context.Context) error
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including
// /health. Multiple middlewares are applied in registration order
// (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
