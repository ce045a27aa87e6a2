// Package resources implements the bounded, fair, deadlock-free resource
// pools tool requests acquire before execution. It has no equivalent in the
// teacher framework (gomind has no resource-pool concept); it is grounded on
// the guarded-state-transition discipline documented in core/circuit_breaker.go
// (CanExecute-style non-blocking probes over mutex-protected state) and
// generalized into named capacity pools with FIFO wait queues, exclusive
// acquisition, and a canonical lock-ordering rule that prevents circular
// waits among concurrently acquiring requests.
package resources

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/devmind-run/orchestrator-core/errs"
	"github.com/devmind-run/orchestrator-core/types"
)

// waiter is a single pending acquisition request sitting in a pool's FIFO
// queue. granted is closed by the releaser once the waiter is satisfied.
type waiter struct {
	units     int
	exclusive bool
	granted   chan struct{}
}

type pool struct {
	mu        sync.Mutex
	capacity  int
	available int
	queue     []*waiter
}

// Options configures Manager-wide behavior for unregistered resources.
type Options struct {
	// AutoRegisterUnknown creates a pool on first use instead of failing
	// with ResourceUnavailable.
	AutoRegisterUnknown bool
	// UnknownDefaultCapacity is the capacity given to an auto-registered
	// pool (default 1 if zero).
	UnknownDefaultCapacity int
}

// Manager owns a set of named resource pools; an Orchestrator keeps one
// Manager for all of its Orchestrate calls.
type Manager struct {
	mu      sync.Mutex
	pools   map[string]*pool
	options Options

	// autoRegisterLimiter bounds how fast distinct unknown resource names
	// can each mint a brand-new pool, so a request batch that references
	// many one-off resource names under AutoRegisterUnknown cannot thrash
	// pool creation; it does not affect acquisition of already-registered
	// pools.
	autoRegisterLimiter *rate.Limiter
}

// NewManager creates an empty Manager. Pools must be registered with
// RegisterPool before requests reference them, unless Options.AutoRegisterUnknown
// is set.
func NewManager(opts Options) *Manager {
	if opts.UnknownDefaultCapacity <= 0 {
		opts.UnknownDefaultCapacity = 1
	}
	return &Manager{
		pools:               make(map[string]*pool),
		options:             opts,
		autoRegisterLimiter: rate.NewLimiter(rate.Limit(50), 20),
	}
}

// RegisterPool declares a named resource with the given capacity (in units).
func (m *Manager) RegisterPool(name string, capacity int) error {
	if capacity < 1 {
		return errs.New("resources.RegisterPool", errs.InvalidInput, name,
			fmt.Errorf("capacity must be >= 1, got %d", capacity))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name] = &pool{
		capacity:  capacity,
		available: capacity,
	}
	return nil
}

func (m *Manager) getOrCreatePool(ctx context.Context, name string) (*pool, error) {
	m.mu.Lock()
	if p, ok := m.pools[name]; ok {
		m.mu.Unlock()
		return p, nil
	}
	if !m.options.AutoRegisterUnknown {
		m.mu.Unlock()
		return nil, errs.New("resources.Acquire", errs.ResourceUnavailable, name, errs.ErrResourceNotRegistered)
	}
	m.mu.Unlock()

	if err := m.autoRegisterLimiter.Wait(ctx); err != nil {
		return nil, errs.New("resources.Acquire", errs.Cancelled, name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[name]; ok {
		// Another goroutine registered it while we waited on the limiter.
		return p, nil
	}
	p := &pool{
		capacity:  m.options.UnknownDefaultCapacity,
		available: m.options.UnknownDefaultCapacity,
	}
	m.pools[name] = p
	return p, nil
}

// Held tracks the resources a single request has successfully acquired, in
// acquisition order, so Release can give them back in reverse.
type Held struct {
	reqs []types.ResourceRequirement
}

// Acquire acquires every resource named in reqs, in canonical ascending
// name order (the one lock-ordering rule the manager imposes, preventing
// circular waits among concurrent requests). On context cancellation or
// any resource being too large, it releases whatever it already holds, in
// reverse order, and returns an error.
func (m *Manager) Acquire(ctx context.Context, reqs []types.ResourceRequirement) (*Held, error) {
	ordered := append([]types.ResourceRequirement(nil), reqs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Resource < ordered[j].Resource })

	held := &Held{}
	for _, r := range ordered {
		p, err := m.getOrCreatePool(ctx, r.Resource)
		if err != nil {
			m.release(held)
			return nil, err
		}
		if r.Units > p.capacity {
			m.release(held)
			return nil, errs.New("resources.Acquire", errs.InvalidInput, r.Resource, errs.ErrResourceTooLarge)
		}
		// An exclusive holder takes the pool's whole capacity, so no other
		// holder can be present until it releases.
		if r.Exclusive {
			r.Units = p.capacity
		}
		if err := acquireOne(ctx, p, r.Units, r.Exclusive); err != nil {
			m.release(held)
			return nil, err
		}
		held.reqs = append(held.reqs, r)
	}
	return held, nil
}

// Release returns every resource in held to its pool, in reverse
// acquisition order, and wakes any waiters now satisfiable.
func (m *Manager) Release(held *Held) {
	m.release(held)
}

func (m *Manager) release(held *Held) {
	if held == nil {
		return
	}
	for i := len(held.reqs) - 1; i >= 0; i-- {
		r := held.reqs[i]
		m.mu.Lock()
		p, ok := m.pools[r.Resource]
		m.mu.Unlock()
		if !ok {
			continue
		}
		releaseOne(p, r.Units)
	}
	held.reqs = nil
}

func conditionMet(p *pool, units int, exclusive bool) bool {
	if exclusive {
		return p.available == p.capacity && units <= p.available
	}
	return units <= p.available
}

func acquireOne(ctx context.Context, p *pool, units int, exclusive bool) error {
	p.mu.Lock()
	if len(p.queue) == 0 && conditionMet(p, units, exclusive) {
		p.available -= units
		p.mu.Unlock()
		return nil
	}
	w := &waiter{units: units, exclusive: exclusive, granted: make(chan struct{})}
	p.queue = append(p.queue, w)
	p.mu.Unlock()

	select {
	case <-w.granted:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, q := range p.queue {
			if q == w {
				p.queue = append(p.queue[:i], p.queue[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
		// There is an unavoidable race: the waiter may have been granted
		// concurrently with the cancellation. If so, give the units back.
		select {
		case <-w.granted:
			releaseOne(p, units)
		default:
		}
		return errs.New("resources.Acquire", errs.Cancelled, "", errs.ErrOrchestrationCancelled)
	}
}

// releaseOne returns units to the pool and grants the FIFO queue's head
// waiters while their condition holds. Only the head is ever considered —
// a later waiter is never granted ahead of one still blocked at the front,
// which is the queue's FIFO fairness guarantee.
func releaseOne(p *pool, units int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.available += units
	for len(p.queue) > 0 {
		head := p.queue[0]
		if !conditionMet(p, head.units, head.exclusive) {
			break
		}
		p.available -= head.units
		p.queue = p.queue[1:]
		close(head.granted)
	}
}

// Snapshot describes one pool's current occupancy, for tests and P3/P4
// property checks.
type Snapshot struct {
	Name      string
	Capacity  int
	Available int
	Waiting   int
}

// Snapshots returns the current state of every registered pool.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	names := make([]string, 0, len(m.pools))
	pools := make(map[string]*pool, len(m.pools))
	for name, p := range m.pools {
		names = append(names, name)
		pools[name] = p
	}
	m.mu.Unlock()

	sort.Strings(names)
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		p := pools[name]
		p.mu.Lock()
		out = append(out, Snapshot{
			Name:      name,
			Capacity:  p.capacity,
			Available: p.available,
			Waiting:   len(p.queue),
		})
		p.mu.Unlock()
	}
	return out
}
