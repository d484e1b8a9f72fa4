package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/service/debate"
	"github.com/kioku-ai/kioku/internal/service/decay"
	"github.com/kioku-ai/kioku/internal/service/graph"
	"github.com/kioku-ai/kioku/internal/service/remediation"
	"github.com/kioku-ai/kioku/internal/service/usage"
	"github.com/kioku-ai/kioku/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db             *storage.DB
	graphSvc       *graph.Service
	debateSvc      *debate.Service
	decaySvc       *decay.Service
	remediationSvc *remediation.Service
	usage          *usage.Recorder
	logger         *slog.Logger
	startedAt      time.Time
	version        string
	openapiSpec    []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB             *storage.DB
	GraphSvc       *graph.Service
	DebateSvc      *debate.Service
	DecaySvc       *decay.Service
	RemediationSvc *remediation.Service
	Usage          *usage.Recorder // optional, nil disables access tracking
	Logger         *slog.Logger
	Version        string
	OpenAPISpec    []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:             d.DB,
		graphSvc:       d.GraphSvc,
		debateSvc:      d.DebateSvc,
		decaySvc:       d.DecaySvc,
		remediationSvc: d.RemediationSvc,
		usage:          d.Usage,
		logger:         d.Logger,
		startedAt:      time.Now(),
		version:        d.Version,
		openapiSpec:    d.OpenAPISpec,
	}
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// recordAccess notes an item read for the decay scorer's usage bonus.
func (h *Handlers) recordAccess(id string, t model.ItemType) {
	if h.usage != nil {
		h.usage.Record(id, t)
	}
}

// writeServiceError maps domain errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *model.ValidationError
	var notFoundErr *model.NotFoundError
	var unavailableErr *model.CollaboratorUnavailable

	switch {
	case errors.As(err, &validationErr):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, validationErr.Error())
	case errors.As(err, &notFoundErr):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, notFoundErr.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	case errors.As(err, &unavailableErr):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, unavailableErr.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal error")
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		h.logger.Warn("health: database ping failed", "error", err)
	}
	writeJSON(w, r, code, map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// HandleCreateRelationship handles POST /v1/relationships.
func (h *Handlers) HandleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRelationshipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body: "+err.Error())
		return
	}

	rel, err := h.graphSvc.CreateRelationship(r.Context(),
		req.FromID, model.ItemType(req.FromType),
		req.ToID, model.ItemType(req.ToType),
		model.RelationshipType(req.RelationshipType), req.Strength)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rel)
}

// HandleFindRelated handles GET /v1/items/{item_type}/{item_id}/related.
func (h *Handlers) HandleFindRelated(w http.ResponseWriter, r *http.Request) {
	itemType := r.PathValue("item_type")
	itemID := r.PathValue("item_id")

	depth := graph.DefaultTraversalDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "depth must be a positive integer")
			return
		}
		depth = n
	}

	related, err := h.graphSvc.FindRelated(r.Context(), itemID, model.ItemType(itemType), depth)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.recordAccess(itemID, model.ItemType(itemType))
	writeJSON(w, r, http.StatusOK, related)
}

// HandleAutoLink handles POST /v1/items/{item_type}/{item_id}/autolink.
func (h *Handlers) HandleAutoLink(w http.ResponseWriter, r *http.Request) {
	var req model.AutoLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body: "+err.Error())
		return
	}

	created, err := h.graphSvc.AutoLinkItem(r.Context(),
		r.PathValue("item_id"), model.ItemType(r.PathValue("item_type")), req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"created": created,
		"count":   len(created),
	})
}

// HandleExportGraph handles GET /v1/graph/export.
func (h *Handlers) HandleExportGraph(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	maxNodes := graph.DefaultExportMaxNodes
	if raw := r.URL.Query().Get("max_nodes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "max_nodes must be a positive integer")
			return
		}
		maxNodes = n
	}

	export, err := h.graphSvc.ExportGraph(r.Context(), includeArchived, maxNodes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, export)
}

// HandleContribute handles POST /v1/debates/{resource_type}/{resource_id}/messages.
// The debate is created lazily on first contribution; contributor identity
// comes from the verified token.
func (h *Handlers) HandleContribute(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return
	}

	var req model.ContributeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body: "+err.Error())
		return
	}

	d, err := h.debateSvc.GetOrCreateDebate(r.Context(),
		r.PathValue("resource_id"), model.ItemType(r.PathValue("resource_type")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	msg, err := h.debateSvc.AddMessage(r.Context(), d.ID,
		claims.ContributorID, claims.ContributorType,
		model.Stance(req.Stance), req.Argument)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Refetch for the post-append message count.
	d, err = h.debateSvc.GetDebate(r.Context(), d.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, model.ContributeResponse{Debate: d, Message: msg})
}

// HandleGetDebate handles GET /v1/debates/{debate_id}.
func (h *Handlers) HandleGetDebate(w http.ResponseWriter, r *http.Request) {
	debateID, err := uuid.Parse(r.PathValue("debate_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "debate_id must be a UUID")
		return
	}

	d, err := h.debateSvc.GetDebate(r.Context(), debateID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	msgs, err := h.debateSvc.Messages(r.Context(), debateID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	detail := model.DebateDetail{Debate: d, Messages: msgs}
	if j, err := h.debateSvc.GetJudgment(r.Context(), debateID); err == nil {
		detail.Judgment = &j
	} else if !errors.Is(err, storage.ErrNotFound) {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, detail)
}

// HandleRemediate handles POST /v1/remediate.
func (h *Handlers) HandleRemediate(w http.ResponseWriter, r *http.Request) {
	var req model.RemediateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body: "+err.Error())
		return
	}

	var override *model.ErrorPattern
	if req.Pattern != "" {
		p := model.ErrorPattern(req.Pattern)
		override = &p
	}

	report, err := h.remediationSvc.Remediate(r.Context(), req.Message, req.StackTrace, override, req.TopK)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	for _, m := range report.Matches {
		h.recordAccess(m.ID, model.ItemTypeFailure)
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleDecaySweep handles POST /v1/decay/sweep — an on-demand sweep in
// addition to the periodic background runs.
func (h *Handlers) HandleDecaySweep(w http.ResponseWriter, r *http.Request) {
	archived, err := h.decaySvc.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"archived": archived})
}
