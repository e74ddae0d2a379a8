package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/domain/execute"
	"github.com/toolgate/toolgate/internal/domain/tool"
	"github.com/toolgate/toolgate/internal/metrics"
	"github.com/toolgate/toolgate/internal/resilience"
)

// BackendCaller performs one raw backend HTTP request for a tool.
type BackendCaller interface {
	Call(ctx context.Context, t tool.Tool, arguments map[string]any, correlationID, executionID string) (any, error)
}

// ExecutorService performs backend calls for tool invocations. Every call
// runs under a per-tool resilience policy: retries with exponential backoff
// for transient transport failures, inside a circuit breaker that opens
// after repeated exhausted sequences. Each execution is recorded as a
// tracker span regardless of outcome.
type ExecutorService struct {
	catalog tool.Catalog
	backend BackendCaller
	tracker *metrics.Tracker
	logger  *slog.Logger

	retryCfg   resilience.RetryConfig
	breakerCfg resilience.BreakerConfig
	policyOpts []resilience.PolicyOption

	mu       sync.Mutex
	policies map[string]*resilience.Policy
}

// ExecutorServiceOption configures ExecutorService.
type ExecutorServiceOption func(*ExecutorService)

// WithRetryConfig overrides the default retry settings.
func WithRetryConfig(cfg resilience.RetryConfig) ExecutorServiceOption {
	return func(s *ExecutorService) { s.retryCfg = cfg }
}

// WithBreakerConfig overrides the default circuit breaker settings.
func WithBreakerConfig(cfg resilience.BreakerConfig) ExecutorServiceOption {
	return func(s *ExecutorService) { s.breakerCfg = cfg }
}

// WithPolicyOptions passes extra options to every per-tool policy. Used in
// tests to replace the backoff sleep.
func WithPolicyOptions(opts ...resilience.PolicyOption) ExecutorServiceOption {
	return func(s *ExecutorService) { s.policyOpts = opts }
}

// NewExecutorService creates an executor over the catalog and backend.
func NewExecutorService(catalog tool.Catalog, backend BackendCaller, tracker *metrics.Tracker, logger *slog.Logger, opts ...ExecutorServiceOption) *ExecutorService {
	s := &ExecutorService{
		catalog:    catalog,
		backend:    backend,
		tracker:    tracker,
		logger:     logger,
		retryCfg:   resilience.DefaultRetryConfig(),
		breakerCfg: resilience.DefaultBreakerConfig(),
		policies:   make(map[string]*resilience.Policy),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute resolves the tool and performs the backend call under the tool's
// resilience policy.
func (s *ExecutorService) Execute(ctx context.Context, toolName string, arguments map[string]any, correlationID string) (execute.Result, error) {
	t, err := s.catalog.GetTool(ctx, toolName)
	if err != nil || t == nil {
		return execute.Result{}, execute.ErrToolNotFound
	}

	span := s.tracker.Start(toolName)
	defer span.End()
	started := time.Now()

	var data any
	policy := s.policyFor(toolName)
	callErr := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = s.backend.Call(ctx, *t, arguments, correlationID, span.ExecutionID)
		return err
	})

	elapsed := time.Since(started).Milliseconds()
	if callErr != nil {
		span.Fail(callErr.Error())
		s.logger.ErrorContext(ctx, "tool execution failed",
			slog.String("tool", toolName),
			slog.String("correlation_id", correlationID),
			slog.Int64("elapsed_ms", elapsed),
			slog.String("error", callErr.Error()))
		return execute.Result{}, s.wrapFailure(toolName, callErr)
	}

	span.Complete()
	s.logger.InfoContext(ctx, "tool executed",
		slog.String("tool", toolName),
		slog.String("correlation_id", correlationID),
		slog.Int64("elapsed_ms", elapsed))
	return execute.Result{
		Success:         true,
		Data:            data,
		ExecutionTimeMS: elapsed,
	}, nil
}

// policyFor returns the resilience policy for one backend target, creating
// it on first use. The circuit breaker inside is shared by all concurrent
// executions against the same tool.
func (s *ExecutorService) policyFor(toolName string) *resilience.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.policies[toolName]; ok {
		return p
	}
	p := resilience.NewPolicy(
		s.retryCfg,
		resilience.NewBreaker(s.breakerCfg),
		isRetryableBackendErr,
		s.policyOpts...,
	)
	s.policies[toolName] = p
	return p
}

func (s *ExecutorService) wrapFailure(toolName string, err error) error {
	var backendErr *execute.BackendError
	if errors.As(err, &backendErr) {
		return backendErr
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &execute.BackendError{ToolName: toolName, Transient: true, Err: err}
	}
	return &execute.BackendError{ToolName: toolName, Err: err}
}

// isRetryableBackendErr retries only transient transport failures, never
// HTTP status failures.
func isRetryableBackendErr(err error) bool {
	var backendErr *execute.BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Transient
	}
	return false
}

// Compile-time interface verification.
var _ execute.Executor = (*ExecutorService)(nil)
