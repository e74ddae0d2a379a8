// Package execute contains domain types for tool execution and batching.
package execute

import (
	"context"

	"github.com/google/uuid"
)

// Result is the outcome of one successful tool execution.
type Result struct {
	Success         bool           `json:"success"`
	Data            any            `json:"data,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Executor performs one backend call for a tool invocation, guarded by
// retry-with-backoff and a circuit breaker.
type Executor interface {
	Execute(ctx context.Context, toolName string, arguments map[string]any, correlationID string) (Result, error)
}

// BatchRequest is one tool invocation inside a batch.
type BatchRequest struct {
	RequestID string         `json:"request_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// NewBatchRequest returns a request with a generated id.
func NewBatchRequest(toolName string, arguments map[string]any) BatchRequest {
	return BatchRequest{
		RequestID: uuid.NewString(),
		ToolName:  toolName,
		Arguments: arguments,
	}
}

// BatchResult is the isolated outcome of one batch item. Results preserve
// the caller-assigned ordering of requests regardless of completion order.
type BatchResult struct {
	RequestID       string `json:"request_id"`
	ToolName        string `json:"tool_name"`
	Success         bool   `json:"success"`
	Data            any    `json:"data,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

// BatchStats aggregates a completed batch for reporting.
type BatchStats struct {
	TotalRequests int     `json:"total_requests"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	AvgTimeMS     int64   `json:"avg_execution_time_ms"`
	MaxTimeMS     int64   `json:"max_execution_time_ms"`
	MinTimeMS     int64   `json:"min_execution_time_ms"`
}

// Statistics computes aggregate stats for a set of batch results.
func Statistics(results []BatchResult) BatchStats {
	stats := BatchStats{TotalRequests: len(results)}
	if len(results) == 0 {
		return stats
	}

	var sum int64
	stats.MinTimeMS = results[0].ExecutionTimeMS
	for _, r := range results {
		if r.Success {
			stats.Successful++
		}
		sum += r.ExecutionTimeMS
		if r.ExecutionTimeMS > stats.MaxTimeMS {
			stats.MaxTimeMS = r.ExecutionTimeMS
		}
		if r.ExecutionTimeMS < stats.MinTimeMS {
			stats.MinTimeMS = r.ExecutionTimeMS
		}
	}
	stats.Failed = stats.TotalRequests - stats.Successful
	stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalRequests) * 100
	stats.AvgTimeMS = sum / int64(len(results))
	return stats
}
