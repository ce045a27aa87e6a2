package orchestrator

import "context"

// contextKey is a private type for this package's context keys, so values
// set here can never collide with keys set by other packages.
type contextKey string

const requestIDContextKey contextKey = "orchestrator_request_id"

// WithRequestID attaches a correlation id to ctx so logs and spans emitted
// by every component an Orchestrate call touches can be tied back to one
// originating request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestID retrieves the id set by WithRequestID, or "" if none was set.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
