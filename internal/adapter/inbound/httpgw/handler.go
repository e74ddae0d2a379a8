package httpgw

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/domain/elevation"
	"github.com/toolgate/toolgate/internal/domain/execute"
	"github.com/toolgate/toolgate/internal/domain/ratelimit"
	"github.com/toolgate/toolgate/internal/domain/reqctx"
	"github.com/toolgate/toolgate/internal/domain/tool"
	"github.com/toolgate/toolgate/internal/metrics"
	"github.com/toolgate/toolgate/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// Gateway is the inbound port to the governance pipeline.
type Gateway interface {
	ListTools(ctx context.Context, rc *reqctx.RequestContext) ([]tool.Tool, error)
	CallTool(ctx context.Context, rc *reqctx.RequestContext, toolName string, arguments map[string]any, idempotencyKey string) (execute.Result, error)
	CallBatch(ctx context.Context, rc *reqctx.RequestContext, requests []execute.BatchRequest, sequential, stopOnError bool) ([]execute.BatchResult, execute.BatchStats)
	GetAuditLogs(ctx context.Context, filter audit.Filter) (audit.Page, error)
	UpdateRiskPolicy(ctx context.Context, rc *reqctx.RequestContext, tier tool.RiskTier, update service.RiskPolicyUpdate) error
}

// Handler serves the governed tool API.
type Handler struct {
	gateway   Gateway
	elevation elevation.Checker
	tracker   *metrics.Tracker
	logger    *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(gateway Gateway, elevationChecker elevation.Checker, tracker *metrics.Tracker, logger *slog.Logger) *Handler {
	return &Handler{
		gateway:   gateway,
		elevation: elevationChecker,
		tracker:   tracker,
		logger:    logger,
	}
}

// RouterConfig carries the middleware wiring options.
type RouterConfig struct {
	Auth      *APIKeyAuthenticator
	JWTSecret string

	// TrustIdentityHeaders accepts plain X-User-ID/X-User-Roles identity
	// headers even when token auth is configured, for deployments that
	// terminate auth upstream. Without token auth the headers are always
	// the identity source.
	TrustIdentityHeaders bool

	// AuthAudit, when set, receives an auth_event for every rejected
	// credential.
	AuthAudit AuthAuditor

	Metrics  *metrics.Metrics
	Registry prometheus.Gatherer
}

// Router builds the chi router with the full middleware stack.
func (h *Handler) Router(cfg RouterConfig) http.Handler {
	trustHeaders := cfg.TrustIdentityHeaders || (cfg.Auth == nil && cfg.JWTSecret == "")

	r := chi.NewRouter()
	r.Use(CorrelationIDMiddleware(h.logger))
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(RequestContextMiddleware(cfg.Auth, cfg.JWTSecret, trustHeaders, cfg.AuthAudit))

	r.Get("/healthz", h.handleHealth)
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tools", h.handleListTools)
		r.Post("/tools/{name}/call", h.handleCallTool)
		r.Post("/tools/batch", h.handleBatch)
		r.Post("/elevation/request", h.handleElevationRequest)
		r.Delete("/elevation", h.handleElevationRevoke)
		r.Get("/audit", h.handleAuditQuery)
		r.Put("/policy/{tier}", h.handlePolicyUpdate)
		r.Get("/stats", h.handleStats)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	tools, err := h.gateway.ListTools(r.Context(), rc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": tools,
		"count": len(tools),
	})
}

type callRequest struct {
	Arguments map[string]any `json:"arguments"`
}

func (h *Handler) handleCallTool(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	toolName := chi.URLParam(r, "name")

	var req callRequest
	if err := decodeBody(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.gateway.CallTool(r.Context(), rc, toolName,
		req.Arguments, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Requests []struct {
		ToolName  string         `json:"tool_name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"requests"`
	Sequential  bool `json:"sequential"`
	StopOnError bool `json:"stop_on_error"`
}

type batchResponse struct {
	Results    []execute.BatchResult `json:"results"`
	Statistics execute.BatchStats    `json:"statistics"`
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())

	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Requests) == 0 {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "requests must not be empty")
		return
	}

	items := make([]execute.BatchRequest, len(req.Requests))
	for i, item := range req.Requests {
		items[i] = execute.NewBatchRequest(item.ToolName, item.Arguments)
	}

	results, stats := h.gateway.CallBatch(r.Context(), rc, items, req.Sequential, req.StopOnError)
	writeJSON(w, http.StatusOK, batchResponse{Results: results, Statistics: stats})
}

type elevationRequest struct {
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleElevationRequest(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	if rc.UserID == "" {
		writeProblem(w, http.StatusUnauthorized, "unauthenticated", "elevation requires an authenticated caller")
		return
	}

	var req elevationRequest
	if err := decodeBody(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.ToolName == "" || req.Reason == "" {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "tool_name and reason are required")
		return
	}

	grant, err := h.elevation.RequestElevation(r.Context(), rc.UserID, req.ToolName, req.Reason, false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (h *Handler) handleElevationRevoke(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	if rc.UserID == "" {
		writeProblem(w, http.StatusUnauthorized, "unauthenticated", "elevation requires an authenticated caller")
		return
	}
	toolName := r.URL.Query().Get("tool")
	if toolName == "" {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "tool query parameter is required")
		return
	}
	h.elevation.Revoke(rc.UserID, toolName)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	if !rc.HasRole("admin") {
		writeProblem(w, http.StatusForbidden, "forbidden", "audit queries require the admin role")
		return
	}

	filter, err := auditFilterFromQuery(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	page, err := h.gateway.GetAuditLogs(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	if !rc.HasRole("admin") {
		writeProblem(w, http.StatusForbidden, "forbidden", "policy updates require the admin role")
		return
	}

	tier := tool.RiskTier(chi.URLParam(r, "tier"))
	if !tier.IsValid() {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "unknown risk tier")
		return
	}

	var update service.RiskPolicyUpdate
	if err := decodeBody(r, &update); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := h.gateway.UpdateRiskPolicy(r.Context(), rc, tier, update); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tools": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":   h.tracker.AllToolStats(),
		"summary": h.tracker.Summary(),
	})
}

// auditFilterFromQuery maps query parameters onto the audit filter.
func auditFilterFromQuery(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		ToolName:  q.Get("tool"),
		UserID:    q.Get("user"),
		Status:    q.Get("status"),
		EventType: q.Get("event_type"),
	}

	for name, dst := range map[string]*time.Time{
		"start": &filter.StartTime,
		"end":   &filter.EndTime,
	} {
		if raw := q.Get(name); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return audit.Filter{}, errors.New(name + " must be RFC 3339")
			}
			*dst = ts
		}
	}
	for name, dst := range map[string]*int{
		"limit":  &filter.Limit,
		"offset": &filter.Offset,
	} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return audit.Filter{}, errors.New(name + " must be a non-negative integer")
			}
			*dst = n
		}
	}
	return filter, nil
}

// writeError maps pipeline errors onto the HTTP contract. Visibility
// denials answer 404, identical to an unknown tool, so probing cannot
// distinguish hidden from nonexistent.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notExposed *execute.NotExposedError
		denied     *execute.DeniedError
		limited    *ratelimit.LimitExceededError
		backend    *execute.BackendError
	)
	switch {
	case errors.Is(err, execute.ErrToolNotFound), errors.As(err, &notExposed):
		writeProblem(w, http.StatusNotFound, "tool_not_found", "tool not found")

	case errors.As(err, &denied):
		body := map[string]any{
			"error":  "access_denied",
			"detail": denied.Reason,
		}
		if denied.RequiresElevation {
			body["requires_elevation"] = true
		}
		writeJSON(w, http.StatusForbidden, body)

	case errors.As(err, &limited):
		seconds := int(limited.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", limited.ResetAt.UTC().Format(time.RFC3339))
		writeProblem(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")

	case errors.As(err, &backend):
		status := http.StatusBadGateway
		if backend.Transient {
			status = http.StatusServiceUnavailable
		}
		writeProblem(w, status, "backend_error", backend.Error())

	default:
		LoggerFromContext(r.Context()).ErrorContext(r.Context(), "unhandled pipeline error",
			slog.String("error", err.Error()))
		writeProblem(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxRequestBodySize)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty body is a valid no-arguments call
		}
		return errors.New("request body must be valid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}
