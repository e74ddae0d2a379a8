package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/domain/execute"
	"github.com/toolgate/toolgate/internal/domain/policy"
	"github.com/toolgate/toolgate/internal/domain/ratelimit"
	"github.com/toolgate/toolgate/internal/domain/reqctx"
	"github.com/toolgate/toolgate/internal/domain/tool"
)

// stubGatewayExecutor stands in for the resilient executor so pipeline
// tests can count backend invocations precisely.
type stubGatewayExecutor struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error
}

func (e *stubGatewayExecutor) Execute(_ context.Context, toolName string, arguments map[string]any, _ string) (execute.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if err := e.fail[toolName]; err != nil {
		return execute.Result{}, err
	}
	return execute.Result{
		Success: true,
		Data:    map[string]any{"tool": toolName, "echo": arguments["id"]},
	}, nil
}

func (e *stubGatewayExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

var gatewayTools = []tool.Tool{
	{Name: "get_invoice", BundleName: "billing", RiskTier: tool.RiskTierRead},
	{Name: "create_invoice", BundleName: "billing", RiskTier: tool.RiskTierWrite},
	{Name: "delete_customer", BundleName: "crm", RiskTier: tool.RiskTierPrivileged},
}

type gatewayFixture struct {
	gateway  *GatewayService
	executor *stubGatewayExecutor
	db       *mockSink
}

func newGatewayFixture(t *testing.T, perms map[string][]string, opts ...GatewayOption) *gatewayFixture {
	t.Helper()
	logger := testLogger()

	cache := memory.NewCacheWithInterval(0)
	t.Cleanup(cache.Close)

	catalog := memory.NewCatalog(gatewayTools)
	exposureSvc := NewExposureService(&mockPermissionSource{perms: perms}, logger)
	riskTable := policy.NewRiskTable()
	policySvc := NewPolicyService(riskTable, policy.NewFallbackTable(), logger)
	elevationSvc := NewElevationService(logger)
	limiter := NewRateLimitService(cache, logger)
	idempotencySvc := NewIdempotencyService(cache, logger)
	executor := &stubGatewayExecutor{fail: make(map[string]error)}
	db := &mockSink{}
	auditSvc := NewAuditService(logger, WithQueryableSink(db))

	gateway := NewGatewayService(catalog, exposureSvc, policySvc, elevationSvc,
		limiter, idempotencySvc, executor, auditSvc, riskTable, nil, logger, opts...)
	return &gatewayFixture{gateway: gateway, executor: executor, db: db}
}

func operatorContext() *reqctx.RequestContext {
	return &reqctx.RequestContext{
		UserID:        "alice",
		Roles:         []string{"operator"},
		CorrelationID: "corr-1",
	}
}

func TestGatewayCallToolSuccess(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"operator": {"expose:bundle:billing"}})

	result, err := fx.gateway.CallTool(context.Background(), operatorContext(),
		"get_invoice", map[string]any{"id": "inv-1"}, "")
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !result.Success {
		t.Error("result.Success = false, want true")
	}
	if fx.executor.callCount() != 1 {
		t.Errorf("executor calls = %d, want 1", fx.executor.callCount())
	}

	// One policy decision and one tool call land in the audit store.
	events := fx.db.written()
	if len(events) != 2 {
		t.Fatalf("audit events = %d, want 2", len(events))
	}
	if events[0].EventType != audit.EventTypePolicyDecision || events[0].Status != audit.StatusAllowed {
		t.Errorf("first event = %s/%s, want policy_decision/allowed", events[0].EventType, events[0].Status)
	}
	if events[1].EventType != audit.EventTypeToolCall || events[1].Status != audit.StatusSuccess {
		t.Errorf("second event = %s/%s, want tool_call/success", events[1].EventType, events[1].Status)
	}
}

func TestGatewayUnknownTool(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"operator": {"expose:all"}})

	_, err := fx.gateway.CallTool(context.Background(), operatorContext(),
		"no_such_tool", nil, "")
	if !errors.Is(err, execute.ErrToolNotFound) {
		t.Fatalf("CallTool() error = %v, want ErrToolNotFound", err)
	}
	if fx.executor.callCount() != 0 {
		t.Error("executor invoked for unknown tool")
	}
}

func TestGatewayNotExposedShortCircuits(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"operator": {"expose:bundle:billing"}})

	_, err := fx.gateway.CallTool(context.Background(), operatorContext(),
		"delete_customer", map[string]any{"id": "cust-1"}, "")

	var notExposed *execute.NotExposedError
	if !errors.As(err, &notExposed) {
		t.Fatalf("CallTool() error = %v, want NotExposedError", err)
	}
	if fx.executor.callCount() != 0 {
		t.Error("executor invoked for unexposed tool")
	}
	// Visibility denials end the request before policy evaluation, so
	// nothing is audited.
	if got := len(fx.db.written()); got != 0 {
		t.Errorf("audit events = %d, want 0", got)
	}
}

func TestGatewayPolicyDenialAudited(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"user": {"expose:all"}})
	rc := &reqctx.RequestContext{
		UserID:        "bob",
		Roles:         []string{"user"},
		CorrelationID: "corr-2",
	}

	_, err := fx.gateway.CallTool(context.Background(), rc,
		"create_invoice", map[string]any{"amount": 10}, "")

	var denied *execute.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("CallTool() error = %v, want DeniedError", err)
	}
	if fx.executor.callCount() != 0 {
		t.Error("executor invoked despite policy denial")
	}

	events := fx.db.written()
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	if events[0].EventType != audit.EventTypePolicyDecision || events[0].Status != audit.StatusDenied {
		t.Errorf("event = %s/%s, want policy_decision/denied", events[0].EventType, events[0].Status)
	}
}

func TestGatewayPrivilegedRequiresElevation(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"admin": {"expose:all"}})
	rc := &reqctx.RequestContext{
		UserID:        "carol",
		Roles:         []string{"admin"},
		CorrelationID: "corr-3",
	}

	_, err := fx.gateway.CallTool(context.Background(), rc,
		"delete_customer", map[string]any{"id": "cust-9"}, "")
	var denied *execute.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("CallTool() error = %v, want DeniedError", err)
	}
	if !denied.RequiresElevation {
		t.Error("DeniedError.RequiresElevation = false, want true")
	}

	// The same caller with a live elevation gets through.
	rc.IsElevated = true
	result, err := fx.gateway.CallTool(context.Background(), rc,
		"delete_customer", map[string]any{"id": "cust-9"}, "")
	if err != nil {
		t.Fatalf("elevated CallTool() error = %v", err)
	}
	if !result.Success {
		t.Error("elevated call failed")
	}
}

func TestGatewayRateLimitDenial(t *testing.T) {
	// User quota 1 with the read tier's permissive multiplier gives an
	// effective limit of 2 per window.
	fx := newGatewayFixture(t,
		map[string][]string{"operator": {"expose:all"}},
		WithQuotas(1, 100, time.Minute))
	rc := operatorContext()

	for i := 0; i < 2; i++ {
		if _, err := fx.gateway.CallTool(context.Background(), rc,
			"get_invoice", map[string]any{"id": "inv-1"}, ""); err != nil {
			t.Fatalf("call %d error = %v", i+1, err)
		}
	}

	_, err := fx.gateway.CallTool(context.Background(), rc,
		"get_invoice", map[string]any{"id": "inv-1"}, "")
	var limited *ratelimit.LimitExceededError
	if !errors.As(err, &limited) {
		t.Fatalf("CallTool() error = %v, want LimitExceededError", err)
	}
	if limited.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", limited.RetryAfter)
	}
	if fx.executor.callCount() != 2 {
		t.Errorf("executor calls = %d, want 2", fx.executor.callCount())
	}
}

func TestGatewayIdempotentReplay(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"operator": {"expose:all"}})
	rc := operatorContext()
	args := map[string]any{"id": "inv-7", "amount": 125}

	first, err := fx.gateway.CallTool(context.Background(), rc,
		"create_invoice", args, "key-1")
	if err != nil {
		t.Fatalf("first CallTool() error = %v", err)
	}

	second, err := fx.gateway.CallTool(context.Background(), rc,
		"create_invoice", args, "key-1")
	if err != nil {
		t.Fatalf("replayed CallTool() error = %v", err)
	}
	if fx.executor.callCount() != 1 {
		t.Fatalf("executor calls = %d, want 1 (replay must not re-execute)", fx.executor.callCount())
	}
	if replay, _ := second.Metadata["idempotent_replay"].(bool); !replay {
		t.Error("replayed result missing idempotent_replay metadata")
	}
	if !second.Success || second.Data == nil {
		t.Errorf("replayed result = %+v, want stored payload of %+v", second, first)
	}
}

func TestGatewayIdempotencyKeysAreCallerScoped(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"operator": {"expose:all"}})
	args := map[string]any{"id": "inv-7"}

	alice := operatorContext()
	if _, err := fx.gateway.CallTool(context.Background(), alice,
		"create_invoice", args, "key-1"); err != nil {
		t.Fatalf("alice CallTool() error = %v", err)
	}

	dave := &reqctx.RequestContext{
		UserID:        "dave",
		Roles:         []string{"operator"},
		CorrelationID: "corr-4",
	}
	if _, err := fx.gateway.CallTool(context.Background(), dave,
		"create_invoice", args, "key-1"); err != nil {
		t.Fatalf("dave CallTool() error = %v", err)
	}
	if fx.executor.callCount() != 2 {
		t.Errorf("executor calls = %d, want 2 (keys are per caller)", fx.executor.callCount())
	}
}

func TestGatewayDerivedIdempotencyKeyForWrites(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"operator": {"expose:bundle:billing"}})
	args := map[string]any{"amount": float64(10)}

	if _, err := fx.gateway.CallTool(context.Background(), operatorContext(),
		"create_invoice", args, ""); err != nil {
		t.Fatalf("first CallTool() error = %v", err)
	}
	second, err := fx.gateway.CallTool(context.Background(), operatorContext(),
		"create_invoice", args, "")
	if err != nil {
		t.Fatalf("second CallTool() error = %v", err)
	}
	if fx.executor.callCount() != 1 {
		t.Errorf("executor calls = %d, want 1 (identical write replays)", fx.executor.callCount())
	}
	if replay, _ := second.Metadata["idempotent_replay"].(bool); !replay {
		t.Error("replayed result missing idempotent_replay metadata")
	}

	// A changed payload derives a different key and executes.
	if _, err := fx.gateway.CallTool(context.Background(), operatorContext(),
		"create_invoice", map[string]any{"amount": float64(20)}, ""); err != nil {
		t.Fatalf("changed-payload CallTool() error = %v", err)
	}
	if fx.executor.callCount() != 2 {
		t.Errorf("executor calls = %d, want 2 after payload change", fx.executor.callCount())
	}

	// Read tier calls never get derived keys.
	for i := 0; i < 2; i++ {
		if _, err := fx.gateway.CallTool(context.Background(), operatorContext(),
			"get_invoice", map[string]any{"id": "inv-1"}, ""); err != nil {
			t.Fatalf("read CallTool() error = %v", err)
		}
	}
	if fx.executor.callCount() != 4 {
		t.Errorf("executor calls = %d, want 4 (reads never replay)", fx.executor.callCount())
	}
}

func TestGatewayExecutionFailureAudited(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"operator": {"expose:all"}})
	fx.executor.fail["get_invoice"] = errors.New("backend boom")

	_, err := fx.gateway.CallTool(context.Background(), operatorContext(),
		"get_invoice", map[string]any{"id": "inv-1"}, "key-9")
	if err == nil {
		t.Fatal("CallTool() error = nil, want backend failure")
	}

	events := fx.db.written()
	if len(events) != 2 {
		t.Fatalf("audit events = %d, want 2", len(events))
	}
	if events[1].EventType != audit.EventTypeToolCall || events[1].Status != audit.StatusFailure {
		t.Errorf("second event = %s/%s, want tool_call/failure", events[1].EventType, events[1].Status)
	}

	// Failures are never stored for replay: the retry executes again.
	fx.executor.fail = map[string]error{}
	if _, err := fx.gateway.CallTool(context.Background(), operatorContext(),
		"get_invoice", map[string]any{"id": "inv-1"}, "key-9"); err != nil {
		t.Fatalf("retry CallTool() error = %v", err)
	}
	if fx.executor.callCount() != 2 {
		t.Errorf("executor calls = %d, want 2", fx.executor.callCount())
	}
}

func TestGatewayListToolsFiltered(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"operator": {"expose:bundle:billing"}})

	visible, err := fx.gateway.ListTools(context.Background(), operatorContext())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	want := map[string]bool{"get_invoice": true, "create_invoice": true}
	if len(visible) != len(want) {
		t.Fatalf("ListTools() = %d tools, want %d", len(visible), len(want))
	}
	for _, v := range visible {
		if !want[v.Name] {
			t.Errorf("unexpected visible tool %s", v.Name)
		}
	}
}

func TestGatewayBatchGovernsEveryItem(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"operator": {"expose:bundle:billing"}})
	rc := operatorContext()

	requests := []execute.BatchRequest{
		{ToolName: "get_invoice", Arguments: map[string]any{"id": "inv-1"}},
		{ToolName: "delete_customer", Arguments: map[string]any{"id": "cust-1"}},
		{ToolName: "create_invoice", Arguments: map[string]any{"amount": 5}},
	}
	results, stats := fx.gateway.CallBatch(context.Background(), rc, requests, false, false)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, r := range results {
		if r.ToolName != requests[i].ToolName {
			t.Errorf("results[%d].ToolName = %s, order not preserved", i, r.ToolName)
		}
	}
	if !results[0].Success || !results[2].Success {
		t.Errorf("exposed items failed: %q, %q", results[0].Error, results[2].Error)
	}
	// The crm tool is outside the caller's exposed set; its failure is
	// isolated to its own slot.
	if results[1].Success || results[1].Error == "" {
		t.Error("unexposed batch item succeeded, want isolated failure")
	}
	if stats.Successful != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 2 successful / 1 failed", stats)
	}
	if fx.executor.callCount() != 2 {
		t.Errorf("executor calls = %d, want 2", fx.executor.callCount())
	}
}

func TestGatewayUpdateRiskPolicy(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{
		"user":  {"expose:bundle:billing"},
		"admin": {"expose:all"},
	})
	admin := &reqctx.RequestContext{
		UserID:        "root",
		Roles:         []string{"admin"},
		CorrelationID: "corr-admin",
	}

	// The read tier allows plain users before the update.
	userRC := &reqctx.RequestContext{UserID: "bob", Roles: []string{"user"}, CorrelationID: "corr-2"}
	if _, err := fx.gateway.CallTool(context.Background(), userRC,
		"get_invoice", map[string]any{"id": "inv-1"}, ""); err != nil {
		t.Fatalf("pre-update CallTool() error = %v", err)
	}

	minRole := "operator"
	err := fx.gateway.UpdateRiskPolicy(context.Background(), admin, tool.RiskTierRead,
		RiskPolicyUpdate{MinRole: &minRole})
	if err != nil {
		t.Fatalf("UpdateRiskPolicy() error = %v", err)
	}

	// The raised minimum role now denies the same caller.
	_, err = fx.gateway.CallTool(context.Background(), userRC,
		"get_invoice", map[string]any{"id": "inv-1"}, "")
	var denied *execute.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("post-update CallTool() error = %v, want DeniedError", err)
	}

	// The change itself lands in the audit trail.
	var configEvents int
	for _, ev := range fx.db.written() {
		if ev.EventType == audit.EventTypeConfigChange {
			configEvents++
			if ev.UserID == "" || ev.Metadata["tier"] != "read" {
				t.Errorf("config change event = %+v", ev)
			}
		}
	}
	if configEvents != 1 {
		t.Errorf("config change events = %d, want 1", configEvents)
	}
}

func TestGatewayUpdateRiskPolicyRejectsInvalid(t *testing.T) {
	fx := newGatewayFixture(t, map[string][]string{"admin": {"expose:all"}})
	admin := &reqctx.RequestContext{UserID: "root", Roles: []string{"admin"}}

	badRole := "superuser"
	if err := fx.gateway.UpdateRiskPolicy(context.Background(), admin,
		tool.RiskTierRead, RiskPolicyUpdate{MinRole: &badRole}); err == nil {
		t.Error("expected error for unknown role")
	}

	badTier := "turbo"
	if err := fx.gateway.UpdateRiskPolicy(context.Background(), admin,
		tool.RiskTierWrite, RiskPolicyUpdate{RateLimitTier: &badTier}); err == nil {
		t.Error("expected error for unknown rate limit tier")
	}

	if err := fx.gateway.UpdateRiskPolicy(context.Background(), admin,
		tool.RiskTier("catastrophic"), RiskPolicyUpdate{}); err == nil {
		t.Error("expected error for unknown risk tier")
	}
}
