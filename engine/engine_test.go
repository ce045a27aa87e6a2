package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devmind-run/orchestrator-core/dag"
	"github.com/devmind-run/orchestrator-core/resources"
	"github.com/devmind-run/orchestrator-core/retry"
	"github.com/devmind-run/orchestrator-core/types"
)

// fakeClock makes retry delays instantaneous so tests don't sleep in
// real time, while still reporting monotonically increasing timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

type recordingSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *recordingSink) Handle(e types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) all() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Event, len(s.events))
	copy(out, s.events)
	return out
}

func req(id string, deps ...string) *types.ToolExecutionRequest {
	return &types.ToolExecutionRequest{ID: id, ToolName: id, Dependencies: deps}
}

func newEngine(opts Options) (*Engine, *resources.Manager) {
	rm := resources.NewManager(resources.Options{AutoRegisterUnknown: true, UnknownDefaultCapacity: 10})
	rp := retry.New(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Jitter: 0})
	return New(rm, rp, newFakeClock(), nil, nil, opts), rm
}

func TestEngine_LinearChainAllSucceed(t *testing.T) {
	plan, err := dag.Analyze("p1", []*types.ToolExecutionRequest{req("A"), req("B", "A"), req("C", "B")})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := newEngine(Options{})
	exec := ToolExecutorFunc(func(ctx context.Context, r *types.ToolExecutionRequest) (interface{}, error) {
		return "ok", nil
	})
	sink := &recordingSink{}
	result, err := e.Run(context.Background(), plan, exec, sink)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Successful != 3 {
		t.Fatalf("expected all 3 to succeed, got %+v", result)
	}
}

func TestEngine_NonCriticalFailureSkipsDependents(t *testing.T) {
	plan, err := dag.Analyze("p1", []*types.ToolExecutionRequest{req("A"), req("B", "A"), req("C", "A")})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := newEngine(Options{AllowPartialSuccess: true})
	exec := ToolExecutorFunc(func(ctx context.Context, r *types.ToolExecutionRequest) (interface{}, error) {
		if r.EffectiveID() == "A" {
			return nil, fmt.Errorf("boom")
		}
		return "ok", nil
	})
	sink := &recordingSink{}
	result, err := e.Run(context.Background(), plan, exec, sink)
	if err != nil {
		t.Fatal(err)
	}
	if result.ToolResults["B"].Status != types.StatusSkipped || result.ToolResults["C"].Status != types.StatusSkipped {
		t.Fatalf("expected B and C skipped, got B=%v C=%v", result.ToolResults["B"].Status, result.ToolResults["C"].Status)
	}
	if result.ToolResults["B"].Error.Kind != "dependency_failed" {
		t.Fatalf("expected dependency_failed kind, got %v", result.ToolResults["B"].Error.Kind)
	}
}

func TestEngine_CriticalFailureAbortsSiblings(t *testing.T) {
	critical := req("A")
	critical.IsCritical = true
	plan, err := dag.Analyze("p1", []*types.ToolExecutionRequest{critical, req("B"), req("C")})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := newEngine(Options{})

	release := make(chan struct{})
	exec := ToolExecutorFunc(func(ctx context.Context, r *types.ToolExecutionRequest) (interface{}, error) {
		if r.EffectiveID() == "A" {
			return nil, fmt.Errorf("fatal")
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	})
	sink := &recordingSink{}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	result, err := e.Run(context.Background(), plan, exec, sink)
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("expected overall failure due to critical node")
	}
	for _, id := range []string{"B", "C"} {
		if got := result.ToolResults[id].Status; got != types.StatusCancelled {
			t.Fatalf("expected sibling %s to be cancelled by the critical failure, got %v", id, got)
		}
	}
}

func TestEngine_RetriesRecoverableFailureUntilSuccess(t *testing.T) {
	plan, err := dag.Analyze("p1", []*types.ToolExecutionRequest{req("A")})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := newEngine(Options{})
	var calls int32
	exec := ToolExecutorFunc(func(ctx context.Context, r *types.ToolExecutionRequest) (interface{}, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			return nil, fmt.Errorf("transient")
		}
		return "ok", nil
	})
	sink := &recordingSink{}
	result, err := e.Run(context.Background(), plan, exec, sink)
	if err != nil {
		t.Fatal(err)
	}
	if result.ToolResults["A"].Status != types.StatusSucceeded || result.ToolResults["A"].Attempts != 2 {
		t.Fatalf("expected success on 2nd attempt, got %+v", result.ToolResults["A"])
	}
}

func TestEngine_EmitsPlanBuiltAndOrchestrationFinished(t *testing.T) {
	plan, err := dag.Analyze("p1", []*types.ToolExecutionRequest{req("A")})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := newEngine(Options{})
	exec := ToolExecutorFunc(func(ctx context.Context, r *types.ToolExecutionRequest) (interface{}, error) {
		return "ok", nil
	})
	sink := &recordingSink{}
	if _, err := e.Run(context.Background(), plan, exec, sink); err != nil {
		t.Fatal(err)
	}
	all := sink.all()
	if all[0].Kind != types.EventPlanBuilt {
		t.Fatalf("expected first event PlanBuilt, got %s", all[0].Kind)
	}
	if all[len(all)-1].Kind != types.EventOrchestrationFinished {
		t.Fatalf("expected last event OrchestrationFinished, got %s", all[len(all)-1].Kind)
	}
}

func TestEngine_OpenCircuitBreakerShortCircuitsWithoutRetry(t *testing.T) {
	plan, err := dag.Analyze("p1", []*types.ToolExecutionRequest{req("A")})
	if err != nil {
		t.Fatal(err)
	}
	rm := resources.NewManager(resources.Options{AutoRegisterUnknown: true, UnknownDefaultCapacity: 10})
	rp := retry.New(retry.Config{MaxAttempts: 10, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Jitter: 0})
	e := New(rm, rp, newFakeClock(), nil, nil, Options{CircuitBreaker: true})

	var calls int32
	exec := ToolExecutorFunc(func(ctx context.Context, r *types.ToolExecutionRequest) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fmt.Errorf("boom")
	})
	sink := &recordingSink{}
	result, err := e.Run(context.Background(), plan, exec, sink)
	if err != nil {
		t.Fatal(err)
	}

	final := result.ToolResults["A"]
	if final.Status != types.StatusFailed {
		t.Fatalf("expected final status Failed, got %v", final.Status)
	}
	if final.Error.Kind != "resource_unavailable" {
		t.Fatalf("expected an open breaker to classify as resource_unavailable, got %v", final.Error.Kind)
	}
	if final.Error.Recoverable {
		t.Fatal("expected an open breaker rejection to be non-recoverable")
	}
	// The breaker trips after 5 consecutive failures (ReadyToTrip), so the
	// executor itself is called exactly 5 times; the 6th attempt is
	// short-circuited by gobreaker without reaching the executor, and that
	// rejection itself is never retried.
	if got := atomic.LoadInt32(&calls); got != 5 {
		t.Fatalf("expected exactly 5 executor calls before the breaker opens, got %d", got)
	}
	if final.Attempts != 6 {
		t.Fatalf("expected the open-breaker rejection to end the attempt loop at 6, got %d", final.Attempts)
	}

	for _, ev := range sink.all() {
		if ev.Kind == types.EventToolRetrying && ev.ID == "A" && ev.Attempt > 6 {
			t.Fatalf("expected no retry events once the breaker is open, got retry at attempt %d", ev.Attempt)
		}
	}
}

func TestEngine_ResourceAcquisitionGatesExecution(t *testing.T) {
	a := req("A")
	a.RequiredResources = []types.ResourceRequirement{{Resource: "cpu", Units: 1, Exclusive: true}}
	b := req("B")
	b.RequiredResources = []types.ResourceRequirement{{Resource: "cpu", Units: 1, Exclusive: true}}
	plan, err := dag.Analyze("p1", []*types.ToolExecutionRequest{a, b})
	if err != nil {
		t.Fatal(err)
	}
	e, rm := newEngine(Options{})
	_ = rm.RegisterPool("cpu", 1)

	var concurrent, maxConcurrent int32
	exec := ToolExecutorFunc(func(ctx context.Context, r *types.ToolExecutionRequest) (interface{}, error) {
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			m := atomic.LoadInt32(&maxConcurrent)
			if cur <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return "ok", nil
	})
	sink := &recordingSink{}
	result, err := e.Run(context.Background(), plan, exec, sink)
	if err != nil {
		t.Fatal(err)
	}
	if result.Successful != 2 {
		t.Fatalf("expected both to eventually succeed, got %+v", result)
	}
	if maxConcurrent > 1 {
		t.Fatalf("expected exclusive resource to serialize execution, got max concurrency %d", maxConcurrent)
	}
}
