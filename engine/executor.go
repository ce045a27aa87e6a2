package engine

import (
	"context"

	"github.com/devmind-run/orchestrator-core/types"
)

// ToolExecutor is the single capability the engine needs from its caller: a
// way to actually run one tool. Arguments and the returned value are both
// opaque to the engine.
type ToolExecutor interface {
	Execute(ctx context.Context, req *types.ToolExecutionRequest) (value interface{}, err error)
}

// ToolExecutorFunc adapts a plain function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, req *types.ToolExecutionRequest) (interface{}, error)

func (f ToolExecutorFunc) Execute(ctx context.Context, req *types.ToolExecutionRequest) (interface{}, error) {
	return f(ctx, req)
}

// RecoverableError lets an executor mark a returned error as retryable or
// not, overriding the engine's default assumption that a plain execution
// error is transient. Executors that don't implement this are treated as
// recoverable.
type RecoverableError interface {
	error
	Recoverable() bool
}
