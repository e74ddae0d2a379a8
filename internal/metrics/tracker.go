package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Span tracks one tool execution from start to completion. Exactly one of
// Complete or Fail must be called; End is idempotent and safe to defer so
// panics and early returns still close the span as a failure.
type Span struct {
	ExecutionID string

	tracker  *Tracker
	toolName string
	started  time.Time
	done     bool
}

// Complete closes the span as a success.
func (s *Span) Complete() { s.end(true, "") }

// Fail closes the span as a failure with the given error message.
func (s *Span) Fail(errMsg string) { s.end(false, errMsg) }

// End closes the span as a failure if neither Complete nor Fail ran.
// Intended for defer.
func (s *Span) End() { s.end(false, "aborted") }

func (s *Span) end(success bool, errMsg string) {
	if s.done {
		return
	}
	s.done = true
	s.tracker.record(s.toolName, s.started, success, errMsg)
}

// ToolStats aggregates recorded executions for one tool.
type ToolStats struct {
	ToolName      string    `json:"tool_name,omitempty"`
	TotalCalls    int       `json:"total_calls"`
	SuccessCalls  int       `json:"success_calls"`
	FailedCalls   int       `json:"failed_calls"`
	SuccessRate   float64   `json:"success_rate"`
	AvgDurationMS int64     `json:"avg_duration_ms"`
	LastUsed      time.Time `json:"last_used,omitzero"`
}

type toolRecord struct {
	total      int
	successful int
	durationMS int64
	lastUsed   time.Time
}

// Tracker records tool execution outcomes, both into Prometheus and into an
// in-memory per-tool aggregate served by the analytics endpoints.
type Tracker struct {
	metrics *Metrics
	now     func() time.Time

	mu    sync.Mutex
	tools map[string]*toolRecord
}

// NewTracker returns a tracker publishing to the given metrics set.
func NewTracker(m *Metrics) *Tracker {
	return &Tracker{
		metrics: m,
		now:     time.Now,
		tools:   make(map[string]*toolRecord),
	}
}

// Start opens a span for one tool execution and returns it. The span's
// ExecutionID is forwarded to the backend as X-Execution-ID.
func (t *Tracker) Start(toolName string) *Span {
	return &Span{
		ExecutionID: uuid.NewString(),
		tracker:     t,
		toolName:    toolName,
		started:     t.now(),
	}
}

func (t *Tracker) record(toolName string, started time.Time, success bool, errMsg string) {
	elapsed := t.now().Sub(started)

	status := "success"
	if !success {
		status = "failed"
	}
	t.metrics.ExecutionsTotal.WithLabelValues(toolName, status).Inc()
	t.metrics.ExecutionDuration.WithLabelValues(toolName).Observe(elapsed.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.tools[toolName]
	if rec == nil {
		rec = &toolRecord{}
		t.tools[toolName] = rec
	}
	rec.total++
	if success {
		rec.successful++
	}
	rec.durationMS += elapsed.Milliseconds()
	rec.lastUsed = started
}

// ToolStats returns the aggregate for one tool. A tool with no recorded
// executions yields a zero aggregate.
func (t *Tracker) ToolStats(toolName string) ToolStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.tools[toolName]
	if rec == nil {
		return ToolStats{ToolName: toolName}
	}
	return statsFromRecord(toolName, rec)
}

// AllToolStats returns per-tool aggregates sorted by call volume.
func (t *Tracker) AllToolStats() []ToolStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ToolStats, 0, len(t.tools))
	for name, rec := range t.tools {
		out = append(out, statsFromRecord(name, rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCalls != out[j].TotalCalls {
			return out[i].TotalCalls > out[j].TotalCalls
		}
		return out[i].ToolName < out[j].ToolName
	})
	return out
}

// Summary returns the aggregate across all tools.
func (t *Tracker) Summary() ToolStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total toolRecord
	for _, rec := range t.tools {
		total.total += rec.total
		total.successful += rec.successful
		total.durationMS += rec.durationMS
		if rec.lastUsed.After(total.lastUsed) {
			total.lastUsed = rec.lastUsed
		}
	}
	return statsFromRecord("", &total)
}

func statsFromRecord(name string, rec *toolRecord) ToolStats {
	stats := ToolStats{
		ToolName:     name,
		TotalCalls:   rec.total,
		SuccessCalls: rec.successful,
		FailedCalls:  rec.total - rec.successful,
		LastUsed:     rec.lastUsed,
	}
	if rec.total > 0 {
		stats.SuccessRate = float64(rec.successful) / float64(rec.total) * 100
		stats.AvgDurationMS = rec.durationMS / int64(rec.total)
	}
	return stats
}
