package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/domain/policy"
)

// mockSink records written events and can be told to fail.
type mockSink struct {
	mu     sync.Mutex
	events []audit.Event
	fail   bool
}

func (m *mockSink) Write(_ context.Context, event audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink unavailable")
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockSink) Query(_ context.Context, filter audit.Filter) (audit.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return audit.Page{}, errors.New("sink unavailable")
	}
	var matched []audit.Event
	for _, e := range m.events {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	return audit.Page{Events: matched, Total: len(matched)}, nil
}

func (m *mockSink) written() []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Event(nil), m.events...)
}

func TestAuditDualWrite(t *testing.T) {
	worm := &mockSink{}
	db := &mockSink{}
	svc := NewAuditService(testLogger(), WithWORMSink(worm), WithQueryableSink(db))

	svc.LogToolCall(context.Background(), "get_invoice", map[string]any{"id": "inv-1"},
		map[string]any{"total": 10}, 12.5, "corr-1", "alice@example.com", audit.StatusSuccess, "")

	if len(worm.written()) != 1 || len(db.written()) != 1 {
		t.Fatalf("dual write: worm=%d db=%d, want 1 each", len(worm.written()), len(db.written()))
	}
	if svc.FallbackDepth() != 0 {
		t.Errorf("FallbackDepth() = %d after successful writes, want 0", svc.FallbackDepth())
	}
}

func TestAuditMasksUserIDBeforeSink(t *testing.T) {
	db := &mockSink{}
	svc := NewAuditService(testLogger(), WithQueryableSink(db))

	svc.LogToolCall(context.Background(), "get_invoice", nil, nil, 1, "corr-1",
		"alice", audit.StatusSuccess, "")

	got := db.written()[0]
	if got.UserID == "alice" {
		t.Error("sink received the raw user id")
	}
	if !strings.Contains(got.UserID, "***") {
		t.Errorf("UserID = %q, want partial mask", got.UserID)
	}
}

func TestAuditMasksMetadataPII(t *testing.T) {
	db := &mockSink{}
	svc := NewAuditService(testLogger(), WithQueryableSink(db))

	svc.LogToolCall(context.Background(), "get_customer",
		map[string]any{"email": "a.person@example.com", "password": "hunter2"},
		nil, 1, "corr-1", "alice", audit.StatusSuccess, "")

	params := db.written()[0].Metadata["params"].(map[string]any)
	if params["password"] != "***REDACTED***" {
		t.Errorf("password in metadata = %v, want redacted", params["password"])
	}
	if email, _ := params["email"].(string); strings.Contains(email, "person@") {
		t.Errorf("email in metadata not masked: %q", email)
	}
}

func TestAuditFallbackBufferOnTotalFailure(t *testing.T) {
	worm := &mockSink{fail: true}
	db := &mockSink{fail: true}
	svc := NewAuditService(testLogger(), WithWORMSink(worm), WithQueryableSink(db))
	ctx := context.Background()

	// Must not panic or surface an error.
	svc.LogToolCall(ctx, "get_invoice", nil, nil, 1, "corr-1", "alice", audit.StatusFailure, "backend down")

	if svc.FallbackDepth() != 1 {
		t.Fatalf("FallbackDepth() = %d, want 1", svc.FallbackDepth())
	}

	// Queries degrade to the buffer.
	page, err := svc.GetLogs(ctx, audit.Filter{ToolName: "get_invoice"})
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	if page.Total != 1 {
		t.Errorf("GetLogs() total = %d, want 1 from fallback buffer", page.Total)
	}
}

func TestAuditFallbackBufferBounded(t *testing.T) {
	svc := NewAuditService(testLogger()) // no sinks at all
	ctx := context.Background()

	for i := 0; i < fallbackBufferCap+10; i++ {
		svc.LogToolCall(ctx, "get_invoice", nil, nil, 1, "corr", "alice", audit.StatusSuccess, "")
	}
	if svc.FallbackDepth() != fallbackBufferCap {
		t.Errorf("FallbackDepth() = %d, want cap %d", svc.FallbackDepth(), fallbackBufferCap)
	}
}

func TestAuditPolicyDecisionEvent(t *testing.T) {
	db := &mockSink{}
	svc := NewAuditService(testLogger(), WithQueryableSink(db))

	svc.LogPolicyDecision(context.Background(), policy.Decision{
		Allowed:           false,
		Reason:            "Elevation required for privileged operation",
		PoliciesEvaluated: []string{"risk_policy"},
		RequiresElevation: true,
	}, "delete_customer", "invoke", "corr-1", "alice")

	got := db.written()[0]
	if got.EventType != audit.EventTypePolicyDecision {
		t.Errorf("EventType = %s", got.EventType)
	}
	if got.Status != audit.StatusDenied {
		t.Errorf("Status = %s, want denied", got.Status)
	}
	if got.Metadata["requires_elevation"] != true {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestAuditAuthEvent(t *testing.T) {
	db := &mockSink{}
	svc := NewAuditService(testLogger(), WithQueryableSink(db))

	svc.LogAuthEvent(context.Background(), "authenticate", "corr-1", "",
		audit.StatusFailure, map[string]any{"method": "api_key", "source_ip": "10.0.0.9"})

	got := db.written()[0]
	if got.EventType != audit.EventTypeAuthEvent {
		t.Errorf("EventType = %s, want auth_event", got.EventType)
	}
	if got.Status != audit.StatusFailure {
		t.Errorf("Status = %s, want failure", got.Status)
	}
	if got.Metadata["method"] != "api_key" {
		t.Errorf("metadata = %v", got.Metadata)
	}

	// Filtering by event type surfaces the auth trail.
	page, err := svc.GetLogs(context.Background(), audit.Filter{EventType: audit.EventTypeAuthEvent})
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Total = %d, want 1", page.Total)
	}
}

func TestAuditPartialSinkFailureStillPersists(t *testing.T) {
	worm := &mockSink{fail: true}
	db := &mockSink{}
	svc := NewAuditService(testLogger(), WithWORMSink(worm), WithQueryableSink(db))

	svc.LogToolCall(context.Background(), "get_invoice", nil, nil, 1, "corr-1", "alice", audit.StatusSuccess, "")

	if len(db.written()) != 1 {
		t.Error("relational sink missed the event when the object store failed")
	}
	if svc.FallbackDepth() != 0 {
		t.Errorf("event buffered despite one sink succeeding")
	}
}
