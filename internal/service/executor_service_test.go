package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/toolgate/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate/toolgate/internal/domain/execute"
	"github.com/toolgate/toolgate/internal/domain/tool"
	"github.com/toolgate/toolgate/internal/metrics"
	"github.com/toolgate/toolgate/internal/resilience"
)

// mockBackend scripts backend call outcomes per tool.
type mockBackend struct {
	mu    sync.Mutex
	errs  map[string][]error // consumed front to back; nil entry = success
	calls map[string]int
}

func newMockBackend() *mockBackend {
	return &mockBackend{errs: make(map[string][]error), calls: make(map[string]int)}
}

func (m *mockBackend) Call(_ context.Context, t tool.Tool, _ map[string]any, _, _ string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[t.Name]++
	if queue := m.errs[t.Name]; len(queue) > 0 {
		err := queue[0]
		m.errs[t.Name] = queue[1:]
		if err != nil {
			return nil, err
		}
	}
	return map[string]any{"ok": true}, nil
}

func (m *mockBackend) callCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func testCatalog(t *testing.T) tool.Catalog {
	t.Helper()
	return memory.NewCatalog([]tool.Tool{
		{Name: "get_invoice", BundleName: "billing", RiskTier: tool.RiskTierRead, HTTPMethod: "GET", Endpoint: "/invoices/{id}"},
		{Name: "create_invoice", BundleName: "billing", RiskTier: tool.RiskTierWrite, HTTPMethod: "POST", Endpoint: "/invoices"},
		{Name: "delete_customer", BundleName: "crm", RiskTier: tool.RiskTierPrivileged, HTTPMethod: "DELETE", Endpoint: "/customers/{id}"},
	})
}

func noSleep() resilience.PolicyOption {
	return resilience.WithSleep(func(context.Context, time.Duration) error { return nil })
}

func newExecutor(t *testing.T, backend BackendCaller, opts ...ExecutorServiceOption) *ExecutorService {
	t.Helper()
	tracker := metrics.NewTracker(metrics.New(prometheus.NewRegistry()))
	opts = append([]ExecutorServiceOption{WithPolicyOptions(noSleep())}, opts...)
	return NewExecutorService(testCatalog(t), backend, tracker, testLogger(), opts...)
}

func TestExecuteSuccess(t *testing.T) {
	backend := newMockBackend()
	svc := newExecutor(t, backend)

	result, err := svc.Execute(context.Background(), "get_invoice", map[string]any{"id": "1"}, "corr-1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Error("result.Success = false")
	}
	if backend.callCount("get_invoice") != 1 {
		t.Errorf("backend called %d times, want 1", backend.callCount("get_invoice"))
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	svc := newExecutor(t, newMockBackend())

	_, err := svc.Execute(context.Background(), "no_such_tool", nil, "corr-1")
	if !errors.Is(err, execute.ErrToolNotFound) {
		t.Errorf("Execute() error = %v, want ErrToolNotFound", err)
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	backend := newMockBackend()
	transient := &execute.BackendError{ToolName: "get_invoice", Transient: true, Err: errors.New("timeout")}
	backend.errs["get_invoice"] = []error{transient, transient, nil}
	svc := newExecutor(t, backend)

	result, err := svc.Execute(context.Background(), "get_invoice", nil, "corr-1")
	if err != nil {
		t.Fatalf("Execute() error = %v after retries", err)
	}
	if !result.Success {
		t.Error("result.Success = false")
	}
	if backend.callCount("get_invoice") != 3 {
		t.Errorf("backend called %d times, want 3 (2 retries)", backend.callCount("get_invoice"))
	}
}

func TestExecuteNeverRetriesPermanentFailures(t *testing.T) {
	backend := newMockBackend()
	backend.errs["get_invoice"] = []error{
		&execute.BackendError{ToolName: "get_invoice", StatusCode: 404, Body: "not found"},
	}
	svc := newExecutor(t, backend)

	_, err := svc.Execute(context.Background(), "get_invoice", nil, "corr-1")
	var backendErr *execute.BackendError
	if !errors.As(err, &backendErr) || backendErr.StatusCode != 404 {
		t.Fatalf("Execute() error = %v, want 404 BackendError", err)
	}
	if backend.callCount("get_invoice") != 1 {
		t.Errorf("backend called %d times for a 4xx, want 1", backend.callCount("get_invoice"))
	}
}

func TestExecuteCircuitOpensAfterRepeatedFailures(t *testing.T) {
	backend := newMockBackend()
	permanent := &execute.BackendError{ToolName: "get_invoice", StatusCode: 500, Body: "boom"}
	for i := 0; i < 10; i++ {
		backend.errs["get_invoice"] = append(backend.errs["get_invoice"], permanent)
	}
	svc := newExecutor(t, backend,
		WithBreakerConfig(resilience.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = svc.Execute(ctx, "get_invoice", nil, "corr")
	}
	before := backend.callCount("get_invoice")

	// Breaker is open: the backend is not called again.
	_, err := svc.Execute(ctx, "get_invoice", nil, "corr")
	if err == nil {
		t.Fatal("Execute() error = nil with open breaker")
	}
	if backend.callCount("get_invoice") != before {
		t.Errorf("backend called through an open breaker")
	}

	// Other tools keep their own breaker.
	if _, err := svc.Execute(ctx, "create_invoice", nil, "corr"); err != nil {
		t.Errorf("Execute(create_invoice) error = %v, want independent breaker", err)
	}
}
