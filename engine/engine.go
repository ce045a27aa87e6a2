// Package engine executes a validated plan phase by phase: within a phase,
// every ready node runs concurrently (bounded by MaxConcurrency); resources
// are acquired before a tool runs and released unconditionally afterward;
// failed attempts are retried according to retry.Policy; a critical
// failure cancels every other in-flight and not-yet-started node; a
// non-critical failure marks its transitive dependents Skipped without
// aborting independent branches. It adapts the worker-pool-plus-panic-
// recovery shape of executeDAG/worker (orchestration/workflow_engine.go),
// generalized from a single shared task/result channel pair to a
// per-phase wait group so the already-phase-decomposed plan never needs
// a ready-node polling loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devmind-run/orchestrator-core/errs"
	"github.com/devmind-run/orchestrator-core/events"
	"github.com/devmind-run/orchestrator-core/logging"
	"github.com/devmind-run/orchestrator-core/resources"
	"github.com/devmind-run/orchestrator-core/retry"
	"github.com/devmind-run/orchestrator-core/types"
)

// Options configures one Engine instance.
type Options struct {
	// MaxConcurrency bounds how many nodes within a single phase run at
	// once. Zero means unbounded (one goroutine per node in the phase).
	MaxConcurrency int

	// GlobalTimeout bounds the whole orchestration. Zero means no bound.
	GlobalTimeout time.Duration

	// DefaultToolTimeout is used for a request that doesn't set its own
	// Timeout. Zero means no per-tool bound beyond GlobalTimeout.
	DefaultToolTimeout time.Duration

	// AllowPartialSuccess controls OrchestrationResult.Success when some
	// non-critical nodes failed or timed out but nothing critical did.
	AllowPartialSuccess bool

	// CircuitBreaker enables a per-tool_name gobreaker.CircuitBreaker guarding
	// calls to ToolExecutor.Execute.
	CircuitBreaker bool
}

// Engine runs one ExecutionPlan to completion.
type Engine struct {
	resources *resources.Manager
	retry     *retry.Policy
	clock     Clock
	logger    logging.Logger
	tracer    trace.Tracer
	opts      Options

	cbMu sync.Mutex
	cbs  map[string]*gobreaker.CircuitBreaker
}

// New builds an Engine. logger and tracer may be nil (a NoOp logger is used,
// and a nil tracer means no spans are started); clock defaults to RealClock.
func New(resourceManager *resources.Manager, retryPolicy *retry.Policy, clock Clock, logger logging.Logger, tracer trace.Tracer, opts Options) *Engine {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Engine{
		resources: resourceManager,
		retry:     retryPolicy,
		clock:     clock,
		logger:    logger,
		tracer:    tracer,
		opts:      opts,
		cbs:       make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (e *Engine) circuitBreakerFor(toolName string) *gobreaker.CircuitBreaker {
	if !e.opts.CircuitBreaker {
		return nil
	}
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	if cb, ok := e.cbs[toolName]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        toolName,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	e.cbs[toolName] = cb
	return cb
}

// Run executes plan to completion against executor, publishing lifecycle
// events to sink, and returns the aggregate result. Run never returns an
// error for tool-level failures — those are reflected in the result; a
// non-nil error means the plan itself could not be started.
func (e *Engine) Run(ctx context.Context, plan *types.ExecutionPlan, executor ToolExecutor, sink events.Sink) (*types.OrchestrationResult, error) {
	if plan == nil {
		return nil, errs.New("engine.Run", errs.InvalidInput, "", fmt.Errorf("plan must not be nil"))
	}

	start := e.clock.Now()
	if e.opts.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.GlobalTimeout)
		defer cancel()
	}
	ctx, cancelCritical := context.WithCancel(ctx)
	defer cancelCritical()

	sink.Handle(types.Event{Kind: types.EventPlanBuilt, Plan: plan, Time: e.clock.Now()})

	results := make(map[string]*types.ToolExecutionResult, len(plan.Nodes))
	var resMu sync.Mutex
	// criticalFailed is only ever written inside a goroutine body that has
	// already returned by the time the next phase's wg.Wait() unblocks, so
	// reading it between phases needs no atomic.
	criticalFailed := false

	for _, phase := range plan.Phases {
		if ctx.Err() != nil || criticalFailed {
			e.skipPhase(phase, plan, results, &resMu, sink, ctx.Err())
			continue
		}

		var wg sync.WaitGroup
		sem := make(chan struct{}, e.concurrencyLimit(len(phase)))

		for _, id := range phase {
			req := plan.Nodes[id]

			resMu.Lock()
			depErr := e.firstFailedDependency(req, results)
			resMu.Unlock()
			if depErr != "" {
				r := &types.ToolExecutionResult{
					ID:       id,
					ToolName: req.ToolName,
					Status:   types.StatusSkipped,
					Error: &types.ResultError{
						Kind:    string(errs.DependencyFailed),
						Message: fmt.Sprintf("dependency %q did not succeed", depErr),
					},
				}
				resMu.Lock()
				results[id] = r
				resMu.Unlock()
				sink.Handle(types.Event{Kind: types.EventToolFinished, ID: id, Status: types.StatusSkipped, Reason: "dependency_failed", Time: e.clock.Now()})
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(req *types.ToolExecutionRequest) {
				defer wg.Done()
				defer func() { <-sem }()
				defer func() {
					if r := recover(); r != nil {
						id := req.EffectiveID()
						e.logger.ErrorWithContext(ctx, "tool execution panicked", map[string]interface{}{
							"id":         id,
							"tool_name":  req.ToolName,
							"metadata":   req.Metadata,
							"panic":      fmt.Sprintf("%v", r),
							"stacktrace": string(debug.Stack()),
						})
						res := &types.ToolExecutionResult{
							ID:       id,
							ToolName: req.ToolName,
							Status:   types.StatusFailed,
							Error: &types.ResultError{
								Kind:    string(errs.ToolExecutionError),
								Message: fmt.Sprintf("panic: %v", r),
							},
						}
						resMu.Lock()
						results[id] = res
						if req.IsCritical {
							criticalFailed = true
							cancelCritical()
						}
						resMu.Unlock()
					}
				}()

				res := e.runOne(ctx, req, executor, sink)

				resMu.Lock()
				results[req.EffectiveID()] = res
				if req.IsCritical && (res.Status == types.StatusFailed || res.Status == types.StatusTimedOut) {
					criticalFailed = true
					cancelCritical()
				}
				resMu.Unlock()
			}(req)
		}
		wg.Wait()
	}

	return e.summarize(plan, results, e.clock.Now().Sub(start), sink), nil
}

func (e *Engine) concurrencyLimit(phaseSize int) int {
	if e.opts.MaxConcurrency <= 0 || e.opts.MaxConcurrency > phaseSize {
		return phaseSize
	}
	return e.opts.MaxConcurrency
}

// firstFailedDependency returns the id of the first dependency of req that
// did not reach Succeeded, or "" if every dependency succeeded.
func (e *Engine) firstFailedDependency(req *types.ToolExecutionRequest, results map[string]*types.ToolExecutionResult) string {
	for _, dep := range req.Dependencies {
		if r, ok := results[dep]; !ok || r.Status != types.StatusSucceeded {
			return dep
		}
	}
	return ""
}

func (e *Engine) skipPhase(phase []string, plan *types.ExecutionPlan, results map[string]*types.ToolExecutionResult, mu *sync.Mutex, sink events.Sink, cause error) {
	status := types.StatusCancelled
	reason := "cancelled"
	if cause == context.DeadlineExceeded {
		status = types.StatusTimedOut
		reason = "global_timeout"
	}
	mu.Lock()
	defer mu.Unlock()
	for _, id := range phase {
		if _, done := results[id]; done {
			continue
		}
		req := plan.Nodes[id]
		results[id] = &types.ToolExecutionResult{
			ID:       id,
			ToolName: req.ToolName,
			Status:   status,
			Error:    &types.ResultError{Kind: string(errs.Cancelled), Message: reason},
		}
		sink.Handle(types.Event{Kind: types.EventToolFinished, ID: id, Status: status, Reason: reason, Time: e.clock.Now()})
	}
}

func (e *Engine) runOne(ctx context.Context, req *types.ToolExecutionRequest, executor ToolExecutor, sink events.Sink) *types.ToolExecutionResult {
	id := req.EffectiveID()
	maxAttempts := e.retry.EffectiveMaxAttempts(req.MaxAttempts)
	backoff := e.retry.NewBackoff()
	cb := e.circuitBreakerFor(req.ToolName)

	var held *resources.Held
	if len(req.RequiredResources) > 0 {
		var err error
		held, err = e.resources.Acquire(ctx, req.RequiredResources)
		if err != nil {
			kind := errs.ResourceUnavailable
			if ctx.Err() != nil {
				kind = errs.Cancelled
			}
			return &types.ToolExecutionResult{
				ID: id, ToolName: req.ToolName, Status: statusForKind(kind),
				Error: &types.ResultError{Kind: string(kind), Message: err.Error()},
			}
		}
		defer e.resources.Release(held)
	}

	toolTimeout := req.Timeout
	if toolTimeout <= 0 {
		toolTimeout = e.opts.DefaultToolTimeout
	}

	overallStart := e.clock.Now()
	var span trace.Span
	if e.tracer != nil {
		attrs := []attribute.KeyValue{
			attribute.String("tool_name", req.ToolName),
			attribute.String("id", id),
		}
		for k, v := range req.Metadata {
			attrs = append(attrs, attribute.String("metadata."+k, v))
		}
		ctx, span = e.tracer.Start(ctx, "engine.execute_tool", trace.WithAttributes(attrs...))
		defer span.End()
	}

	attempts := 0
	for {
		attempts++
		sink.Handle(types.Event{Kind: types.EventToolStarted, ID: id, Attempt: attempts, Time: e.clock.Now()})

		attemptCtx := ctx
		var cancelAttempt context.CancelFunc
		if toolTimeout > 0 {
			attemptCtx, cancelAttempt = context.WithTimeout(ctx, toolTimeout)
		}

		value, execErr := e.invoke(attemptCtx, cb, executor, req)
		if cancelAttempt != nil {
			cancelAttempt()
		}

		duration := e.clock.Now().Sub(overallStart)
		result := e.classify(id, req, value, execErr, ctx, attemptCtx, attempts, duration)

		if result.Status == types.StatusSucceeded {
			sink.Handle(types.Event{Kind: types.EventToolFinished, ID: id, Status: result.Status, Duration: duration, Time: e.clock.Now()})
			if span != nil {
				span.SetStatus(codes.Ok, "")
			}
			return result
		}

		if !retry.ShouldRetry(result, attempts, maxAttempts) {
			sink.Handle(types.Event{Kind: types.EventToolFinished, ID: id, Status: result.Status, Duration: duration, Time: e.clock.Now()})
			if span != nil {
				span.SetStatus(codes.Error, result.Error.Message)
			}
			return result
		}

		delay := backoff.Next()
		sink.Handle(types.Event{Kind: types.EventToolRetrying, ID: id, Attempt: attempts + 1, Delay: delay, Time: e.clock.Now()})

		select {
		case <-e.clock.After(delay):
		case <-ctx.Done():
			final := e.classify(id, req, nil, ctx.Err(), ctx, ctx, attempts, e.clock.Now().Sub(overallStart))
			sink.Handle(types.Event{Kind: types.EventToolFinished, ID: id, Status: final.Status, Time: e.clock.Now()})
			return final
		}
	}
}

func (e *Engine) invoke(ctx context.Context, cb *gobreaker.CircuitBreaker, executor ToolExecutor, req *types.ToolExecutionRequest) (interface{}, error) {
	if cb == nil {
		return executor.Execute(ctx, req)
	}
	return cb.Execute(func() (interface{}, error) {
		return executor.Execute(ctx, req)
	})
}

func (e *Engine) classify(id string, req *types.ToolExecutionRequest, value interface{}, execErr error, outerCtx, attemptCtx context.Context, attempts int, duration time.Duration) *types.ToolExecutionResult {
	if execErr == nil {
		return &types.ToolExecutionResult{
			ID: id, ToolName: req.ToolName, Status: types.StatusSucceeded,
			Value: value, Attempts: attempts, Duration: duration,
		}
	}

	kind := errs.ToolExecutionError
	recoverable := true
	if re, ok := execErr.(RecoverableError); ok {
		recoverable = re.Recoverable()
	}
	switch {
	case errors.Is(execErr, gobreaker.ErrOpenState), errors.Is(execErr, gobreaker.ErrTooManyRequests):
		kind = errs.ResourceUnavailable
		recoverable = false
	case attemptCtx.Err() == context.DeadlineExceeded:
		kind = errs.TimedOut
		recoverable = false
	case outerCtx.Err() != nil:
		kind = errs.Cancelled
		recoverable = false
	}

	return &types.ToolExecutionResult{
		ID: id, ToolName: req.ToolName, Status: statusForKind(kind),
		Error: &types.ResultError{
			Kind:        string(kind),
			Message:     execErr.Error(),
			Recoverable: retry.ClassifyRecoverable(kind, recoverable),
		},
		Attempts:            attempts,
		Duration:            duration,
		RecoverySuggestions: errs.Suggest(kind, req.ToolName),
	}
}

func statusForKind(kind errs.Kind) types.Status {
	switch kind {
	case errs.TimedOut:
		return types.StatusTimedOut
	case errs.Cancelled:
		return types.StatusCancelled
	default:
		return types.StatusFailed
	}
}

func (e *Engine) summarize(plan *types.ExecutionPlan, results map[string]*types.ToolExecutionResult, total time.Duration, sink events.Sink) *types.OrchestrationResult {
	summary := &types.OrchestrationResult{
		ID:            plan.ID,
		ToolResults:   results,
		Plan:          plan,
		TotalDuration: total,
	}
	criticalFailure := false
	for id, r := range results {
		switch r.Status {
		case types.StatusSucceeded:
			summary.Successful++
		case types.StatusFailed:
			summary.Failed++
			if plan.Nodes[id] != nil && plan.Nodes[id].IsCritical {
				criticalFailure = true
			}
		case types.StatusTimedOut:
			summary.TimedOut++
			if plan.Nodes[id] != nil && plan.Nodes[id].IsCritical {
				criticalFailure = true
			}
		case types.StatusSkipped, types.StatusCancelled:
			summary.Skipped++
		}
	}

	switch {
	case criticalFailure:
		summary.Success = false
	case summary.Failed == 0 && summary.TimedOut == 0:
		summary.Success = true
	default:
		summary.Success = e.opts.AllowPartialSuccess
	}

	sink.Handle(types.Event{Kind: types.EventOrchestrationFinished, Summary: summary, Duration: total, Time: e.clock.Now()})
	return summary
}
