// Package logging defines the minimal structured-logging capability the
// orchestrator depends on, so downstream integrators can plug in whatever
// logging backend they already use.
package logging

import "context"

// Logger is the minimal structured logging interface every orchestrator
// component accepts. Fields are a flat map so adapters can forward them to
// zap, logr, slog, or anything else without reshaping.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAware extends Logger with a component tag, so logs from
// "engine" and "orchestrator" can be told apart by a
// downstream log pipeline filtering on the "component" field.
type ComponentAware interface {
	Logger
	WithComponent(component string) Logger
}

// NoOp discards everything. It is the default when no logger is supplied.
type NoOp struct{}

func (NoOp) Info(string, map[string]interface{})  {}
func (NoOp) Warn(string, map[string]interface{})  {}
func (NoOp) Error(string, map[string]interface{}) {}
func (NoOp) Debug(string, map[string]interface{}) {}

func (NoOp) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOp) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOp) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOp) DebugWithContext(context.Context, string, map[string]interface{}) {}

func (n NoOp) WithComponent(string) Logger { return n }

// component wraps a Logger, merging a fixed "component" field into every
// call before forwarding to the underlying logger.
type component struct {
	name string
	base Logger
}

// WithComponent tags an existing Logger with a component name. If base is
// nil, a NoOp is used.
func WithComponent(base Logger, name string) Logger {
	if base == nil {
		base = NoOp{}
	}
	return &component{name: name, base: base}
}

func (c *component) tag(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["component"] = c.name
	return out
}

func (c *component) Info(msg string, f map[string]interface{})  { c.base.Info(msg, c.tag(f)) }
func (c *component) Warn(msg string, f map[string]interface{})  { c.base.Warn(msg, c.tag(f)) }
func (c *component) Error(msg string, f map[string]interface{}) { c.base.Error(msg, c.tag(f)) }
func (c *component) Debug(msg string, f map[string]interface{}) { c.base.Debug(msg, c.tag(f)) }

func (c *component) InfoWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	c.base.InfoWithContext(ctx, msg, c.tag(f))
}
func (c *component) WarnWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	c.base.WarnWithContext(ctx, msg, c.tag(f))
}
func (c *component) ErrorWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	c.base.ErrorWithContext(ctx, msg, c.tag(f))
}
func (c *component) DebugWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	c.base.DebugWithContext(ctx, msg, c.tag(f))
}

func (c *component) WithComponent(name string) Logger {
	return WithComponent(c.base, name)
}
