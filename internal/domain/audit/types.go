// Package audit contains domain types for compliance audit logging.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants. Every governance stage that makes a decision
// produces exactly one event of the matching type.
const (
	// EventTypeToolCall records one tool execution attempt.
	EventTypeToolCall = "tool_call"

	// EventTypePolicyDecision records one authorization decision.
	EventTypePolicyDecision = "policy_decision"

	// EventTypeAuthEvent records authentication activity.
	EventTypeAuthEvent = "auth_event"

	// EventTypeConfigChange records administrative configuration changes.
	EventTypeConfigChange = "config_change"
)

// Status constants for audit events.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusAllowed = "allowed"
	StatusDenied  = "denied"
)

// Event is one append-only audit record. Events are written once and never
// updated or deleted; user ids and metadata are PII-masked before the event
// reaches any sink.
type Event struct {
	EventID       string         `json:"event_id"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     string         `json:"event_type"`
	CorrelationID string         `json:"correlation_id"`
	UserID        string         `json:"user_id,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	Action        string         `json:"action"`
	Status        string         `json:"status"`
	LatencyMS     float64        `json:"latency_ms,omitempty"`
	RequestSize   int            `json:"request_size,omitempty"`
	ResponseSize  int            `json:"response_size,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewEvent returns an event with a fresh id and UTC timestamp.
func NewEvent(eventType string) Event {
	return Event{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
	}
}

// Filter specifies query parameters for audit log queries.
type Filter struct {
	// StartTime and EndTime bound the time range (optional).
	StartTime time.Time
	EndTime   time.Time
	// ToolName filters by tool name (optional).
	ToolName string
	// UserID filters by masked user id (optional).
	UserID string
	// Status filters by event status (optional).
	Status string
	// EventType filters by event type (optional).
	EventType string
	// Limit is the maximum number of records to return (default 100).
	Limit int
	// Offset is the pagination offset.
	Offset int
}

// Matches reports whether an event passes the filter's field predicates.
// Time bounds are inclusive.
func (f Filter) Matches(e Event) bool {
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if f.ToolName != "" && e.ToolName != f.ToolName {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	return true
}

// Page is a paged audit query result.
type Page struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}
