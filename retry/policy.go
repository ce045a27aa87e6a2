// Package retry classifies tool failures as recoverable or not and computes
// the backoff delay between attempts: a per-orchestration budget of max
// attempts, initial/max delay, and exponential backoff with jitter, with the
// delay math delegated to cenkalti/backoff/v5.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/devmind-run/orchestrator-core/errs"
	"github.com/devmind-run/orchestrator-core/types"
)

// Config is a per-orchestration retry budget with exponential backoff and
// jitter, overridable per request.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is a fraction in [0, 1] applied as RandomizationFactor to the
	// underlying exponential backoff.
	Jitter float64
}

// DefaultConfig returns the orchestration-level retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Policy computes per-attempt backoff delays for one orchestration. It is
// not goroutine-safe to share a single Policy's backoff state across
// concurrent requests, so Engine creates one Backoff instance per request
// via NewBackoff.
type Policy struct {
	cfg Config
}

// New builds a Policy from an orchestration-level Config.
func New(cfg Config) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	return &Policy{cfg: cfg}
}

// EffectiveMaxAttempts resolves the orchestration default against a
// request-level override.
func (p *Policy) EffectiveMaxAttempts(override *int) int {
	if override != nil && *override > 0 {
		return *override
	}
	return p.cfg.MaxAttempts
}

// Backoff produces successive delays for one request's retry attempts. It
// wraps a fresh cenkalti/backoff/v5 ExponentialBackOff so concurrent
// requests never share mutable backoff state.
type Backoff struct {
	eb *backoff.ExponentialBackOff
}

// NewBackoff creates a per-request Backoff generator from the policy's
// configuration.
func (p *Policy) NewBackoff() *Backoff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.BaseDelay
	eb.MaxInterval = p.cfg.MaxDelay
	eb.Multiplier = 2.0
	eb.RandomizationFactor = p.cfg.Jitter
	eb.Reset()
	return &Backoff{eb: eb}
}

// Next returns the delay to wait before the next attempt. The exponential
// interval is capped at MaxDelay before jitter is applied, so a jittered
// delay can reach MaxDelay*(1+Jitter).
func (b *Backoff) Next() time.Duration {
	d := b.eb.NextBackOff()
	if d < 0 {
		return b.eb.MaxInterval
	}
	return d
}

// ShouldRetry decides whether a failed attempt is worth retrying: the error
// must be recoverable, and the cap on attempts must not yet be reached.
// TimedOut and Cancelled are always terminal, regardless of any Recoverable
// flag an executor mistakenly set.
func ShouldRetry(result *types.ToolExecutionResult, attempts, maxAttempts int) bool {
	if result.Error == nil {
		return false
	}
	if result.Status == types.StatusTimedOut || result.Status == types.StatusCancelled {
		return false
	}
	if !result.Error.Recoverable {
		return false
	}
	return attempts < maxAttempts
}

// ClassifyRecoverable reports whether an error kind is eligible for retry at
// all, independent of the attempt counter. Non-recoverable kinds
// (InvalidInput, Cancelled, DependencyFailed, TimedOut, ResourceUnavailable)
// can never be retried even on attempt 1.
func ClassifyRecoverable(kind errs.Kind, executorSaysRecoverable bool) bool {
	switch kind {
	case errs.InvalidInput, errs.Cancelled, errs.DependencyFailed, errs.TimedOut:
		return false
	case errs.ToolExecutionError:
		return executorSaysRecoverable
	case errs.ResourceUnavailable:
		return false
	default:
		return false
	}
}
