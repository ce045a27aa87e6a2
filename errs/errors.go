// Package errs defines the error taxonomy shared by every orchestrator
// component: a small set of sentinel errors for errors.Is comparisons, plus a
// structured OrchestratorError carrying the taxonomy kind, the failing
// operation, and whether the failure is worth retrying.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into a small fixed taxonomy. Kind is a string
// enum, not a type per error, so callers can log and compare it directly.
type Kind string

const (
	// InvalidInput covers validation failures: duplicate ids, cycles,
	// unknown dependencies, resource requests too large, priorities out of
	// range. Always non-recoverable. Plan validation fails before any tool
	// runs; a resource request larger than its pool's capacity is detected
	// only when that tool acquires its resources, and the engine records it
	// on that tool's result as ResourceUnavailable.
	InvalidInput Kind = "invalid_input"

	// ResourceUnavailable marks a tool whose resources could not be
	// acquired (an unregistered pool with auto-registration disabled, or a
	// request larger than the pool), or whose circuit breaker rejected the
	// call.
	ResourceUnavailable Kind = "resource_unavailable"

	// ToolExecutionError wraps an error returned by the executor. Whether
	// it is retried depends on the Recoverable flag set by the executor.
	ToolExecutionError Kind = "tool_execution_error"

	// TimedOut covers both per-tool and global timeouts.
	TimedOut Kind = "timed_out"

	// Cancelled covers external cancellation and critical-failure aborts.
	Cancelled Kind = "cancelled"

	// DependencyFailed is synthetic: it marks tools skipped because an
	// ancestor in the dependency graph did not succeed.
	DependencyFailed Kind = "dependency_failed"
)

// Sentinel errors for errors.Is comparisons that don't need the full
// structured form.
var (
	ErrDuplicateID            = errors.New("duplicate request id")
	ErrUnknownDependency      = errors.New("dependency refers to unknown request id")
	ErrCycle                  = errors.New("dependency graph contains a cycle")
	ErrSelfDependency         = errors.New("request depends on itself")
	ErrPriorityOutOfRange     = errors.New("priority must be in [0, 1]")
	ErrEmptyToolName          = errors.New("tool_name must not be empty")
	ErrResourceTooLarge       = errors.New("requested units exceed pool capacity")
	ErrResourceNotRegistered  = errors.New("resource pool not registered")
	ErrMaxAttemptsExceeded    = errors.New("maximum attempts exceeded")
	ErrOrchestrationCancelled = errors.New("orchestration cancelled")
	ErrGlobalTimeout          = errors.New("global timeout exceeded")
)

// OrchestratorError is the structured error type returned by orchestrator
// components. It implements Unwrap so errors.Is/errors.As keep working
// against the sentinels above.
type OrchestratorError struct {
	Op          string // operation that failed, e.g. "dag.Analyze"
	Kind        Kind
	ID          string // request/resource id involved, if any
	Message     string
	Err         error
	Recoverable bool
}

func (e *OrchestratorError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

// New builds an OrchestratorError for the given taxonomy kind.
func New(op string, kind Kind, id string, err error) *OrchestratorError {
	return &OrchestratorError{
		Op:   op,
		Kind: kind,
		ID:   id,
		Err:  err,
	}
}

// Suggest returns a short actionable hint for a failed tool, derived from its
// error kind and name.
func Suggest(kind Kind, toolName string) []string {
	switch kind {
	case ResourceUnavailable:
		return []string{"resource not found: verify the resource name was registered before running the orchestration"}
	case ToolExecutionError:
		return []string{"transient or network error: retrying later may succeed", "if this persists, check permissions and connectivity for " + toolName}
	case TimedOut:
		return []string{"tool exceeded its timeout: consider raising the per-tool timeout or simplifying the request"}
	case Cancelled:
		return []string{"orchestration was cancelled before this tool could run"}
	case DependencyFailed:
		return []string{"a required predecessor failed: inspect its error before retrying this tool"}
	case InvalidInput:
		return []string{"request failed validation: check dependency ids, priority range, and resource sizes"}
	default:
		return nil
	}
}

// IsRecoverable reports whether an error carries an explicit Recoverable
// flag. Errors that aren't *OrchestratorError are treated as recoverable
// only if they don't wrap one of the always-terminal sentinels.
func IsRecoverable(err error) bool {
	var oe *OrchestratorError
	if errors.As(err, &oe) {
		return oe.Recoverable
	}
	return !errors.Is(err, ErrCycle) &&
		!errors.Is(err, ErrOrchestrationCancelled) &&
		!errors.Is(err, ErrGlobalTimeout)
}
