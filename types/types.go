// Package types holds the data model shared across every orchestrator
// package: the request a caller submits, the plan the analyzer builds from
// it, the result the engine produces, and the events emitted along the way.
// It has no dependency on any other orchestrator package so dag, resources,
// retry, engine, events, and metrics can all import it without cycles.
package types

import "time"

// ResourceRequirement names a pool a request needs units from, and whether
// it needs exclusive access to that pool.
type ResourceRequirement struct {
	Resource  string
	Units     int
	Exclusive bool
}

// ToolExecutionRequest is a single planned invocation of a tool.
type ToolExecutionRequest struct {
	// ID is the stable identifier used as the dependency key. Defaults to
	// ToolName when left empty.
	ID string

	ToolName string

	// Arguments is opaque to the core; it is passed through to the executor
	// verbatim.
	Arguments interface{}

	// Dependencies are request ids that must reach Succeeded before this
	// request may start.
	Dependencies []string

	RequiredResources []ResourceRequirement

	// Priority breaks ties within a phase; higher runs first. Must be in
	// [0, 1].
	Priority float64

	// Timeout overrides the orchestration-level default_tool_timeout when
	// set.
	Timeout time.Duration

	// MaxAttempts overrides the orchestration-level retry cap when set
	// (nil means "use the orchestration default").
	MaxAttempts *int

	// IsCritical means this request's terminal failure aborts the whole
	// orchestration.
	IsCritical bool

	// Metadata is free-form tagging threaded into log fields and span
	// attributes; it has no effect on scheduling.
	Metadata map[string]string
}

// EffectiveID returns ID, defaulting to ToolName.
func (r *ToolExecutionRequest) EffectiveID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.ToolName
}

// Status is the lifecycle state of a single request within a plan.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status will never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionPlan is the validated DAG plus its phase decomposition.
type ExecutionPlan struct {
	ID string

	// Nodes maps request id to the originating request.
	Nodes map[string]*ToolExecutionRequest

	// Edges maps a dependency id to the set of dependent ids that wait on
	// it — the reverse dependency index.
	Edges map[string][]string

	TopologicalOrder []string

	// Phases groups ids by dependency depth; phase k contains every id
	// whose longest dependency path from any root is exactly k.
	Phases [][]string
}

// ResultError is the structured error attached to a failed/timed-out result.
type ResultError struct {
	Kind        string
	Message     string
	Recoverable bool
}

// ToolExecutionResult is the outcome of running (or skipping) one request.
type ToolExecutionResult struct {
	ID       string
	ToolName string
	Status   Status

	Value interface{}
	Error *ResultError

	Attempts int
	Duration time.Duration

	RecoverySuggestions []string
}

// OrchestrationResult is the aggregate outcome of one orchestration.
type OrchestrationResult struct {
	ID      string
	Success bool

	Successful int
	Failed     int
	Skipped    int
	TimedOut   int

	ToolResults map[string]*ToolExecutionResult
	Plan        *ExecutionPlan

	TotalDuration time.Duration

	// Error is set only when the batch was rejected before any tool ran
	// (argument schema validation, duplicate/unknown/cyclic dependencies);
	// empty for a result produced by actually running a plan.
	Error string
}

// Event is the discriminated union of lifecycle events emitted to a single
// EventSink during one orchestration. Which fields are set depends on Kind,
// as grouped below.
type Event struct {
	Kind EventKind

	// PlanBuilt
	Plan *ExecutionPlan

	// ToolStarted / ToolFinished / ToolRetrying
	ID      string
	Attempt int
	Status  Status
	Delay   time.Duration
	Reason  string

	// ToolFinished / OrchestrationFinished
	Duration time.Duration

	// OrchestrationFinished
	Summary *OrchestrationResult

	Time time.Time
}

// EventKind enumerates the lifecycle events an orchestration emits.
type EventKind string

const (
	EventPlanBuilt             EventKind = "plan_built"
	EventToolStarted           EventKind = "tool_started"
	EventToolFinished          EventKind = "tool_finished"
	EventToolRetrying          EventKind = "tool_retrying"
	EventOrchestrationFinished EventKind = "orchestration_finished"
	EventCancelled             EventKind = "cancelled"
)
