package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/toolgate/toolgate/internal/domain/execute"
)

const defaultBatchConcurrency = 10

// BatchService fans tool invocations out through the executor under a
// bounded concurrency limit. Every item is isolated: one failure never
// aborts its siblings, and results come back in the caller's request
// order regardless of completion order.
type BatchService struct {
	executor       execute.Executor
	maxConcurrency int64
	logger         *slog.Logger
}

// BatchServiceOption configures BatchService.
type BatchServiceOption func(*BatchService)

// WithBatchConcurrency overrides the default limit of 10 parallel items.
func WithBatchConcurrency(n int) BatchServiceOption {
	return func(s *BatchService) {
		if n > 0 {
			s.maxConcurrency = int64(n)
		}
	}
}

// NewBatchService creates a batch dispatcher over the executor.
func NewBatchService(executor execute.Executor, logger *slog.Logger, opts ...BatchServiceOption) *BatchService {
	s := &BatchService{
		executor:       executor,
		maxConcurrency: defaultBatchConcurrency,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecuteBatch runs all requests in parallel, bounded by the concurrency
// limit.
func (s *BatchService) ExecuteBatch(ctx context.Context, requests []execute.BatchRequest, correlationID string) []execute.BatchResult {
	results := make([]execute.BatchResult, len(requests))
	sem := semaphore.NewWeighted(s.maxConcurrency)
	var wg sync.WaitGroup

	for i, req := range requests {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting for a slot; the remaining
			// items fail without reaching the backend.
			results[i] = cancelledResult(req, err)
			continue
		}
		wg.Add(1)
		go func(i int, req execute.BatchRequest) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.executeOne(ctx, req, correlationID)
		}(i, req)
	}
	wg.Wait()

	stats := execute.Statistics(results)
	s.logger.InfoContext(ctx, "batch completed",
		slog.String("correlation_id", correlationID),
		slog.Int("total", stats.TotalRequests),
		slog.Int("failed", stats.Failed),
		slog.Float64("success_rate", stats.SuccessRate))
	return results
}

// ExecuteSequential runs items one at a time in request order, for callers
// whose invocations depend on each other's side effects. With stopOnError
// set, the first failure skips every remaining item.
func (s *BatchService) ExecuteSequential(ctx context.Context, requests []execute.BatchRequest, correlationID string, stopOnError bool) []execute.BatchResult {
	results := make([]execute.BatchResult, len(requests))
	stopped := false
	for i, req := range requests {
		if stopped {
			results[i] = skippedResult(req)
			continue
		}
		if ctx.Err() != nil {
			results[i] = cancelledResult(req, ctx.Err())
			continue
		}
		results[i] = s.executeOne(ctx, req, correlationID)
		if stopOnError && !results[i].Success {
			stopped = true
		}
	}
	return results
}

func (s *BatchService) executeOne(ctx context.Context, req execute.BatchRequest, correlationID string) execute.BatchResult {
	started := time.Now()
	result, err := s.executor.Execute(ctx, req.ToolName, req.Arguments, correlationID)
	elapsed := time.Since(started).Milliseconds()

	if err != nil {
		return execute.BatchResult{
			RequestID:       req.RequestID,
			ToolName:        req.ToolName,
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMS: elapsed,
		}
	}
	return execute.BatchResult{
		RequestID:       req.RequestID,
		ToolName:        req.ToolName,
		Success:         true,
		Data:            result.Data,
		ExecutionTimeMS: result.ExecutionTimeMS,
	}
}

func skippedResult(req execute.BatchRequest) execute.BatchResult {
	return execute.BatchResult{
		RequestID: req.RequestID,
		ToolName:  req.ToolName,
		Success:   false,
		Error:     "skipped: an earlier item in the sequence failed",
	}
}

func cancelledResult(req execute.BatchRequest, err error) execute.BatchResult {
	return execute.BatchResult{
		RequestID: req.RequestID,
		ToolName:  req.ToolName,
		Success:   false,
		Error:     err.Error(),
	}
}
