package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/domain/policy"
	"github.com/toolgate/toolgate/pkg/piimask"
)

const fallbackBufferCap = 1000

// AuditService persists PII-masked audit events. Events are dual-written
// to the immutable object-store sink and the relational sink; when both are
// unavailable they land in a bounded in-memory buffer so recent history
// survives a short outage. Audit failures are logged and swallowed, never
// breaking the request they describe.
type AuditService struct {
	worm   audit.Sink          // nil when object storage is not configured
	db     audit.QueryableSink // nil when the relational sink is not configured
	logger *slog.Logger

	mu       sync.Mutex
	fallback []audit.Event
}

// AuditServiceOption configures AuditService.
type AuditServiceOption func(*AuditService)

// WithWORMSink attaches the immutable object-store sink.
func WithWORMSink(sink audit.Sink) AuditServiceOption {
	return func(s *AuditService) { s.worm = sink }
}

// WithQueryableSink attaches the relational sink used for queries.
func WithQueryableSink(sink audit.QueryableSink) AuditServiceOption {
	return func(s *AuditService) { s.db = sink }
}

// NewAuditService creates an audit service.
func NewAuditService(logger *slog.Logger, opts ...AuditServiceOption) *AuditService {
	s := &AuditService{logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogEvent masks and persists one event.
func (s *AuditService) LogEvent(ctx context.Context, event audit.Event) {
	event.UserID = piimask.MaskUserID(event.UserID)
	if event.Metadata != nil {
		event.Metadata = piimask.MaskMap(event.Metadata)
	}
	event.ErrorMessage = piimask.MaskText(event.ErrorMessage)

	persisted := false
	if s.worm != nil {
		if err := s.worm.Write(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "audit object-store write failed",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()))
		} else {
			persisted = true
		}
	}
	if s.db != nil {
		if err := s.db.Write(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "audit database write failed",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()))
		} else {
			persisted = true
		}
	}
	if !persisted {
		s.buffer(event)
	}

	s.logger.InfoContext(ctx, "audit event",
		slog.String("event_type", event.EventType),
		slog.String("action", event.Action),
		slog.String("status", event.Status),
		slog.String("user_id", event.UserID),
		slog.String("tool", event.ToolName),
		slog.String("correlation_id", event.CorrelationID))
}

// LogToolCall records one tool execution outcome.
func (s *AuditService) LogToolCall(ctx context.Context, toolName string, params map[string]any, result any, latencyMS float64, correlationID, userID, status, errMsg string) {
	event := audit.NewEvent(audit.EventTypeToolCall)
	event.CorrelationID = correlationID
	event.UserID = userID
	event.ToolName = toolName
	event.Action = "invoke"
	event.Status = status
	event.LatencyMS = latencyMS
	event.RequestSize = jsonSize(params)
	event.ErrorMessage = errMsg
	event.Metadata = map[string]any{"params": params}
	if status == audit.StatusSuccess {
		event.ResponseSize = jsonSize(result)
		event.Metadata["result"] = result
	}
	s.LogEvent(ctx, event)
}

// LogPolicyDecision records one authorization decision.
func (s *AuditService) LogPolicyDecision(ctx context.Context, decision policy.Decision, toolName, action, correlationID, userID string) {
	event := audit.NewEvent(audit.EventTypePolicyDecision)
	event.CorrelationID = correlationID
	event.UserID = userID
	event.ToolName = toolName
	event.Action = action
	event.Status = audit.StatusDenied
	if decision.Allowed {
		event.Status = audit.StatusAllowed
	}
	event.Metadata = map[string]any{
		"reason":             decision.Reason,
		"policies_evaluated": decision.PoliciesEvaluated,
	}
	if decision.RequiresElevation {
		event.Metadata["requires_elevation"] = true
	}
	s.LogEvent(ctx, event)
}

// LogAuthEvent records one authentication attempt outcome. The user id may
// be empty when the credential never resolved to an identity.
func (s *AuditService) LogAuthEvent(ctx context.Context, action, correlationID, userID, status string, details map[string]any) {
	event := audit.NewEvent(audit.EventTypeAuthEvent)
	event.CorrelationID = correlationID
	event.UserID = userID
	event.Action = action
	event.Status = status
	event.Metadata = details
	s.LogEvent(ctx, event)
}

// LogConfigChange records one administrative configuration change.
func (s *AuditService) LogConfigChange(ctx context.Context, action, correlationID, userID string, details map[string]any) {
	event := audit.NewEvent(audit.EventTypeConfigChange)
	event.CorrelationID = correlationID
	event.UserID = userID
	event.Action = action
	event.Status = audit.StatusSuccess
	event.Metadata = details
	s.LogEvent(ctx, event)
}

// GetLogs queries persisted events, newest first. When the relational sink
// is missing or failing, the in-memory fallback buffer answers instead.
func (s *AuditService) GetLogs(ctx context.Context, filter audit.Filter) (audit.Page, error) {
	if s.db != nil {
		page, err := s.db.Query(ctx, filter)
		if err == nil {
			return page, nil
		}
		s.logger.WarnContext(ctx, "audit query failed, serving fallback buffer",
			slog.String("error", err.Error()))
	}
	return s.queryFallback(filter), nil
}

// FallbackDepth reports how many events the in-memory buffer holds.
func (s *AuditService) FallbackDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fallback)
}

func (s *AuditService) buffer(event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fallback) >= fallbackBufferCap {
		// Drop the oldest event; the buffer is a bounded last-resort.
		s.fallback = s.fallback[1:]
	}
	s.fallback = append(s.fallback, event)
}

func (s *AuditService) queryFallback(filter audit.Filter) audit.Page {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]audit.Event, 0, len(s.fallback))
	for _, e := range s.fallback {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	page := audit.Page{Total: len(matched), Limit: limit, Offset: filter.Offset}
	if filter.Offset < len(matched) {
		end := filter.Offset + limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Events = matched[filter.Offset:end]
	}
	return page
}

func jsonSize(v any) int {
	if v == nil {
		return 0
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(encoded)
}
