// Package orchestrator wires the dependency analyzer, resource manager,
// retry policy, execution engine, event bus, and metrics recorder into one
// entry point: submit a batch of tool requests, get back the validated plan
// and the outcome of running it.
package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/devmind-run/orchestrator-core/dag"
	"github.com/devmind-run/orchestrator-core/engine"
	"github.com/devmind-run/orchestrator-core/errs"
	"github.com/devmind-run/orchestrator-core/events"
	"github.com/devmind-run/orchestrator-core/logging"
	"github.com/devmind-run/orchestrator-core/metrics"
	"github.com/devmind-run/orchestrator-core/resources"
	"github.com/devmind-run/orchestrator-core/retry"
	"github.com/devmind-run/orchestrator-core/types"
)

// ToolExecutor is the capability a caller supplies to actually run a tool.
// Re-exported from engine so callers never need to import that package
// directly.
type ToolExecutor = engine.ToolExecutor

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc = engine.ToolExecutorFunc

// Clock is the injectable time capability, re-exported from engine.
type Clock = engine.Clock

// EventSink receives lifecycle events published during one Orchestrate
// call. Re-exported from events so callers never need to import that
// package directly.
type EventSink = events.Sink

// Request is an alias for the data model's request type, so callers that
// only import this package never need the types package directly.
type Request = types.ToolExecutionRequest

// ResourceRequirement is an alias for the data model's resource requirement.
type ResourceRequirement = types.ResourceRequirement

// Result is an alias for the aggregate outcome of one orchestration.
type Result = types.OrchestrationResult

// Orchestrator owns every named resource pool, the retry policy, and the
// execution engine for one long-lived configuration; Orchestrate can be
// called repeatedly and concurrently against the same instance.
type Orchestrator struct {
	cfg      Config
	resources *resources.Manager
	retry    *retry.Policy
	engine   *engine.Engine
	metrics  *metrics.Recorder
	registry *ToolRegistry
	logger   logging.Logger
}

// New builds an Orchestrator from cfg. meter and tracer may be nil to skip
// OpenTelemetry instrumentation; logger may be nil for a no-op logger;
// clock may be nil for the real wall clock; registry may be nil to skip
// argument schema validation.
func New(cfg Config, meter metric.Meter, tracer trace.Tracer, logger logging.Logger, clock Clock, registry *ToolRegistry) *Orchestrator {
	if logger == nil {
		logger = logging.NoOp{}
	}

	rm := resources.NewManager(resources.Options{
		AutoRegisterUnknown:    cfg.AutoRegisterUnknownResources,
		UnknownDefaultCapacity: cfg.UnknownResourceCapacity,
	})
	rp := retry.New(retry.Config{
		MaxAttempts: cfg.MaxRetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      cfg.RetryJitter,
	})
	eng := engine.New(rm, rp, clock, logging.WithComponent(logger, "engine"), tracer, engine.Options{
		MaxConcurrency:      cfg.MaxPhaseConcurrency,
		GlobalTimeout:        cfg.GlobalTimeout,
		DefaultToolTimeout:   cfg.DefaultToolTimeout,
		AllowPartialSuccess:  cfg.AllowPartialSuccess,
		CircuitBreaker:       cfg.EnableCircuitBreaker,
	})

	return &Orchestrator{
		cfg:       cfg,
		resources: rm,
		retry:     rp,
		engine:    eng,
		metrics:   metrics.New(meter),
		registry:  registry,
		logger:    logging.WithComponent(logger, "orchestrator"),
	}
}

// RegisterPool declares a named resource pool with fixed capacity, ahead of
// any request referencing it.
func (o *Orchestrator) RegisterPool(name string, capacity int) error {
	return o.resources.RegisterPool(name, capacity)
}

// Orchestrate validates requests into a plan, runs it to completion against
// executor, and publishes lifecycle events to sink (if non-nil; a discarding
// sink is used otherwise). The returned error is non-nil only when the
// batch itself is invalid (duplicate ids, cycles, unknown dependencies,
// schema validation failure) — tool-level failures are reflected in the
// returned Result. A rejected batch still emits a terminal
// OrchestrationFinished event with Summary.Error set, so a consumer driven
// purely by the event stream always sees one. An empty planID is replaced
// with a generated one, so callers that don't care about correlating plan
// ids across calls can pass "".
func (o *Orchestrator) Orchestrate(ctx context.Context, planID string, requests []*Request, executor ToolExecutor, sink EventSink) (*Result, error) {
	if sink == nil {
		sink = events.SinkFunc(func(types.Event) {})
	}
	if planID == "" {
		planID = uuid.New().String()
	}

	bus := events.New(o.cfg.EventQueueCapacity, o.cfg.EventOverflowPolicy, sink)
	defer bus.Stop()

	if o.registry != nil {
		for _, r := range requests {
			if err := o.registry.Validate(r.ToolName, r.Arguments); err != nil {
				rejectErr := errs.New("orchestrator.Orchestrate", errs.InvalidInput, r.EffectiveID(), err)
				o.emitRejection(bus, planID, rejectErr)
				return nil, rejectErr
			}
		}
	}

	plan, err := dag.Analyze(planID, requests)
	if err != nil {
		o.emitRejection(bus, planID, err)
		return nil, err
	}

	result, err := o.engine.Run(ctx, plan, executor, bus)
	if err != nil {
		return nil, err
	}

	o.metrics.Record(ctx, result)
	return result, nil
}

// emitRejection publishes the terminal event for a batch that never reached
// the engine (schema validation or plan-analysis failure), so a consumer
// driven purely by the event stream still sees an OrchestrationFinished for
// every call, not just the ones that ran.
func (o *Orchestrator) emitRejection(bus *events.Bus, planID string, rejectErr error) {
	summary := &types.OrchestrationResult{ID: planID, Success: false, Error: rejectErr.Error()}
	bus.Handle(types.Event{Kind: types.EventOrchestrationFinished, Summary: summary})
}

// Metrics returns the current cumulative metrics snapshot across every
// Orchestrate call made on this instance.
func (o *Orchestrator) Metrics() metrics.Snapshot {
	return o.metrics.Snapshot()
}

// Snapshots returns the current occupancy of every registered resource pool.
func (o *Orchestrator) Snapshots() []resources.Snapshot {
	return o.resources.Snapshots()
}
