// Package metrics tracks cumulative counters for every orchestration run on
// one Orchestrator and mirrors them onto OpenTelemetry instruments. It
// adapts WorkflowMetrics/WorkflowMetricsSnapshot (orchestration/workflow_metrics.go):
// the same RWMutex-guarded running totals and per-id breakdown, generalized
// from workflow steps to tool executions and from a bespoke snapshot struct
// to one that also feeds an otel meter.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/devmind-run/orchestrator-core/types"
)

// ToolSnapshot mirrors one tool_name's running statistics.
type ToolSnapshot struct {
	Executions  int64
	Successful  int64
	Failed      int64
	SuccessRate float64
	AverageTime time.Duration
	MinTime     time.Duration
	MaxTime     time.Duration
}

// Snapshot is a point-in-time view of every counter this Recorder tracks.
type Snapshot struct {
	TotalOrchestrations      int64
	SuccessfulOrchestrations int64
	FailedOrchestrations     int64
	SuccessRate              float64
	AverageExecutionTime     time.Duration
	ToolMetrics              map[string]ToolSnapshot
}

type toolTotals struct {
	executions int64
	successful int64
	failed     int64
	totalTime  time.Duration
	minTime    time.Duration
	maxTime    time.Duration
}

// Recorder accumulates orchestration outcomes in memory and, when an otel
// meter.Meter is supplied, also records them onto counter/histogram
// instruments so a metrics backend can scrape them.
type Recorder struct {
	mu          sync.RWMutex
	total       int64
	successful  int64
	failed      int64
	totalTime   time.Duration
	toolMetrics map[string]*toolTotals

	orchestrationCounter metric.Int64Counter
	durationHistogram    metric.Float64Histogram
	toolCounter          metric.Int64Counter
}

// New creates a Recorder. meter may be nil, in which case only the in-memory
// snapshot is maintained (no otel instruments are created).
func New(meter metric.Meter) *Recorder {
	r := &Recorder{toolMetrics: make(map[string]*toolTotals)}
	if meter == nil {
		return r
	}
	// Instrument creation only fails on programmer error (duplicate names,
	// invalid options); degrading to a nil instrument on error still leaves
	// the in-memory snapshot functional.
	if c, err := meter.Int64Counter("orchestrator_orchestrations_total"); err == nil {
		r.orchestrationCounter = c
	}
	if h, err := meter.Float64Histogram("orchestrator_orchestration_duration_seconds"); err == nil {
		r.durationHistogram = h
	}
	if c, err := meter.Int64Counter("orchestrator_tool_executions_total"); err == nil {
		r.toolCounter = c
	}
	return r
}

// Record folds one completed orchestration's result into the running totals.
func (r *Recorder) Record(ctx context.Context, result *types.OrchestrationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if result.Success {
		r.successful++
	} else {
		r.failed++
	}
	r.totalTime += result.TotalDuration

	for _, tr := range result.ToolResults {
		tt, ok := r.toolMetrics[tr.ToolName]
		if !ok {
			tt = &toolTotals{minTime: time.Hour * 24 * 365}
			r.toolMetrics[tr.ToolName] = tt
		}
		tt.executions++
		switch tr.Status {
		case types.StatusSucceeded:
			tt.successful++
		case types.StatusFailed, types.StatusTimedOut:
			tt.failed++
		}
		if tr.Duration > 0 {
			tt.totalTime += tr.Duration
			if tr.Duration < tt.minTime {
				tt.minTime = tr.Duration
			}
			if tr.Duration > tt.maxTime {
				tt.maxTime = tr.Duration
			}
		}
		if r.toolCounter != nil {
			status := "succeeded"
			if tr.Status != types.StatusSucceeded {
				status = string(tr.Status)
			}
			r.toolCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool_name", tr.ToolName),
				attribute.String("status", status),
			))
		}
	}

	if r.orchestrationCounter != nil {
		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		r.orchestrationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if r.durationHistogram != nil {
		r.durationHistogram.Record(ctx, result.TotalDuration.Seconds())
	}
}

// Snapshot returns the current running totals.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		TotalOrchestrations:      r.total,
		SuccessfulOrchestrations: r.successful,
		FailedOrchestrations:     r.failed,
		ToolMetrics:              make(map[string]ToolSnapshot, len(r.toolMetrics)),
	}
	if r.total > 0 {
		snap.SuccessRate = float64(r.successful) / float64(r.total)
		snap.AverageExecutionTime = r.totalTime / time.Duration(r.total)
	}
	for name, tt := range r.toolMetrics {
		ts := ToolSnapshot{
			Executions: tt.executions,
			Successful: tt.successful,
			Failed:     tt.failed,
			MinTime:    tt.minTime,
			MaxTime:    tt.maxTime,
		}
		if tt.executions > 0 {
			ts.SuccessRate = float64(tt.successful) / float64(tt.executions)
			ts.AverageTime = tt.totalTime / time.Duration(tt.executions)
		}
		snap.ToolMetrics[name] = ts
	}
	return snap
}

// Reset clears every running total. Intended for tests.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total, r.successful, r.failed, r.totalTime = 0, 0, 0, 0
	r.toolMetrics = make(map[string]*toolTotals)
}
