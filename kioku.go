// Package kioku is the public API for embedding the Kioku knowledge server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := kioku.New(
//	    kioku.WithVersion(version),
//	    kioku.WithLogger(logger),
//	    kioku.WithEmbeddingProvider(myProvider),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kioku (root) imports
// internal/*, but internal/* never imports kioku (root). Extension
// interfaces (EmbeddingProvider, FailureIndex) use only primitive and
// stdlib types; adapters to the internal forms live here because this is
// the only file that sees both sides of the boundary.
package kioku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/kioku-ai/kioku/api"
	"github.com/kioku-ai/kioku/internal/auth"
	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/mcp"
	"github.com/kioku-ai/kioku/internal/ratelimit"
	"github.com/kioku-ai/kioku/internal/search"
	"github.com/kioku-ai/kioku/internal/server"
	"github.com/kioku-ai/kioku/internal/service/debate"
	"github.com/kioku-ai/kioku/internal/service/decay"
	"github.com/kioku-ai/kioku/internal/service/embedding"
	"github.com/kioku-ai/kioku/internal/service/graph"
	"github.com/kioku-ai/kioku/internal/service/remediation"
	"github.com/kioku-ai/kioku/internal/service/usage"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/internal/telemetry"
	"github.com/kioku-ai/kioku/migrations"
)

// App is the Kioku server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	recorder     *usage.Recorder
	qdrantIndex  *search.QdrantIndex // nil when Qdrant is not configured
	remediation  *remediation.Service
	debateSvc    *debate.Service
	decaySvc     *decay.Service
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Kioku server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kioku starting", "version", version, "port", cfg.Port)

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}

	// RunMigrations tracks applied files in schema_migrations and skips
	// duplicates, so errors here indicate real failures.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("migrations: %w", err)
	}

	tokenMgr, err := auth.NewTokenManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Embedding provider: option override, else auto-detection from config.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &providerAdapter{p: o.embeddingProvider}
		logger.Info("embedding provider: custom", "dimensions", embedder.Dimensions())
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Failure index: option override, else Qdrant when configured, else nil
	// (remediation falls back to the Postgres pgvector path).
	var index search.FailureIndex
	var qdrantIndex *search.QdrantIndex
	switch {
	case o.failureIndex != nil:
		index = &indexAdapter{idx: o.failureIndex}
		logger.Info("failure index: custom")
	case cfg.QdrantURL != "":
		qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			db.Close()
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			_ = qdrantIndex.Close()
			db.Close()
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		index = qdrantIndex
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	default:
		logger.Info("qdrant: disabled (no KIOKU_QDRANT_URL)")
	}

	// Services (shared by HTTP and MCP handlers).
	graphSvc := graph.New(db, logger)
	debateSvc := debate.New(db, logger, cfg.JudgeTimeout)
	decaySvc := decay.New(db, logger)
	remediationSvc := remediation.New(db, embedder, index, logger)
	recorder := usage.NewRecorder(db, logger, cfg.UsageFlushSize, cfg.UsageFlushInterval)

	mcpSrv := mcp.New(graphSvc, debateSvc, remediationSvc, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	middlewares := make([]func(http.Handler) http.Handler, len(o.middlewares))
	for i, mw := range o.middlewares {
		middlewares[i] = mw
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		TokenMgr:            tokenMgr,
		GraphSvc:            graphSvc,
		DebateSvc:           debateSvc,
		DecaySvc:            decaySvc,
		RemediationSvc:      remediationSvc,
		Usage:               recorder,
		Logger:              logger,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		Middlewares:         middlewares,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		recorder:     recorder,
		qdrantIndex:  qdrantIndex,
		remediation:  remediationSvc,
		debateSvc:    debateSvc,
		decaySvc:     decaySvc,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts all background goroutines and the HTTP server, then blocks
// until ctx is cancelled or a fatal server error occurs. On return,
// Shutdown is called automatically — callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	a.recorder.Start(ctx)
	go a.decaySvc.Run(ctx, a.cfg.DecayInterval)

	// Embed failures that arrived without embeddings and re-sync the index.
	// Best effort: remediation degrades to fewer matches until the next run.
	go func() {
		if err := a.remediation.Backfill(ctx); err != nil {
			a.logger.Warn("remediation backfill failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a phased graceful stop: (1) stop accepting HTTP
// requests and drain in-flight (they may still dispatch judgments and
// record accesses), (2) wait for background judgment dispatches, (3) flush
// pending access counts. It then closes the index, limiter, database pool,
// and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kioku shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	a.debateSvc.Wait()

	drainCtx, drainCancel := context.WithTimeout(ctx, 10*time.Second)
	a.recorder.Drain(drainCtx)
	drainCancel()

	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("kioku stopped")
	return nil
}

// Handler returns the root HTTP handler, for mounting the App inside an
// existing server or for httptest-based testing.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// providerAdapter bridges the public EmbeddingProvider to the internal
// pgvector-typed interface.
type providerAdapter struct {
	p EmbeddingProvider
}

func (a *providerAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vals, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vals), nil
}

func (a *providerAdapter) Dimensions() int {
	return a.p.Dimensions()
}

// indexAdapter bridges the public FailureIndex to the internal search
// interface.
type indexAdapter struct {
	idx FailureIndex
}

func (a *indexAdapter) Search(ctx context.Context, embedding []float32, pattern string, limit int) ([]search.Result, error) {
	hits, err := a.idx.Search(ctx, embedding, pattern, limit)
	if err != nil {
		return nil, err
	}
	results := make([]search.Result, len(hits))
	for i, h := range hits {
		results[i] = search.Result{FailureID: h.FailureID, Score: h.Score}
	}
	return results, nil
}

func (a *indexAdapter) Upsert(ctx context.Context, points []search.Point) error {
	converted := make([]IndexPoint, len(points))
	for i, p := range points {
		converted[i] = IndexPoint{
			FailureID:  p.FailureID,
			Pattern:    p.Pattern,
			ResolvedAt: p.ResolvedAt,
			Embedding:  p.Embedding,
		}
	}
	return a.idx.Upsert(ctx, converted)
}

func (a *indexAdapter) Healthy(ctx context.Context) error {
	return a.idx.Healthy(ctx)
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "openai", "noop", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if key present, else noop.
// Ollama is preferred: embeddings stay on-premises with no external API costs.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when KIOKU_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims, cfg.EmbedTimeout)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims, cfg.EmbedTimeout)

	case "noop":
		logger.Info("embedding provider: noop (similarity matching disabled)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		// Auto-detect: prefer Ollama (on-premises, no cost), then OpenAI, else noop.
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims, cfg.EmbedTimeout)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims, cfg.EmbedTimeout)
		}
		logger.Warn("no embedding provider available, using noop (similarity matching disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
