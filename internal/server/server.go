package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kioku-ai/kioku/internal/auth"
	"github.com/kioku-ai/kioku/internal/ratelimit"
	"github.com/kioku-ai/kioku/internal/service/debate"
	"github.com/kioku-ai/kioku/internal/service/decay"
	"github.com/kioku-ai/kioku/internal/service/graph"
	"github.com/kioku-ai/kioku/internal/service/remediation"
	"github.com/kioku-ai/kioku/internal/service/usage"
	"github.com/kioku-ai/kioku/internal/storage"
)

// Server is the Kioku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB             *storage.DB
	TokenMgr       *auth.TokenManager
	GraphSvc       *graph.Service
	DebateSvc      *debate.Service
	DecaySvc       *decay.Service
	RemediationSvc *remediation.Service
	Logger         *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer
	Usage     *usage.Recorder

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte // Embedded OpenAPI YAML.

	// Middlewares are applied outermost, in order: the first entry sees
	// every request first, including /health.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:             cfg.DB,
		GraphSvc:       cfg.GraphSvc,
		DebateSvc:      cfg.DebateSvc,
		DecaySvc:       cfg.DecaySvc,
		RemediationSvc: cfg.RemediationSvc,
		Usage:          cfg.Usage,
		Logger:         cfg.Logger,
		Version:        cfg.Version,
		OpenAPISpec:    cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	writeRL := ratelimit.Middleware(cfg.Limiter, contributorKeyFunc("write"), reqIDFunc)
	queryRL := ratelimit.Middleware(cfg.Limiter, contributorKeyFunc("query"), reqIDFunc)

	mux := http.NewServeMux()

	// Graph endpoints.
	mux.Handle("POST /v1/relationships", writeRL(http.HandlerFunc(h.HandleCreateRelationship)))
	mux.Handle("GET /v1/items/{item_type}/{item_id}/related", queryRL(http.HandlerFunc(h.HandleFindRelated)))
	mux.Handle("POST /v1/items/{item_type}/{item_id}/autolink", writeRL(http.HandlerFunc(h.HandleAutoLink)))
	mux.Handle("GET /v1/graph/export", queryRL(http.HandlerFunc(h.HandleExportGraph)))

	// Debate endpoints.
	mux.Handle("POST /v1/debates/{resource_type}/{resource_id}/messages", writeRL(http.HandlerFunc(h.HandleContribute)))
	mux.Handle("GET /v1/debates/{debate_id}", queryRL(http.HandlerFunc(h.HandleGetDebate)))

	// Remediation endpoint (embedding calls make it the most expensive route).
	mux.Handle("POST /v1/remediate", queryRL(http.HandlerFunc(h.HandleRemediate)))

	// Manual decay sweep.
	mux.Handle("POST /v1/decay/sweep", writeRL(http.HandlerFunc(h.HandleDecaySweep)))

	// MCP StreamableHTTP transport (auth required via the outer chain).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health and OpenAPI spec (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.TokenMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	if cfg.MaxRequestBodyBytes > 0 {
		inner := handler
		limit := cfg.MaxRequestBodyBytes
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			inner.ServeHTTP(w, r)
		})
	}

	// Caller-supplied middlewares wrap everything; reverse order so the
	// first registered ends up outermost.
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// contributorKeyFunc builds a rate-limit key from the verified contributor
// identity. Unauthenticated requests (e.g. /health) are never limited here.
func contributorKeyFunc(prefix string) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			return ""
		}
		return prefix + ":" + claims.ContributorID
	}
}

// Handlers returns the underlying Handlers for use in tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
