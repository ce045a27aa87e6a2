package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmind-run/orchestrator-core/types"
)

type collectingSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (c *collectingSink) Handle(e types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collectingSink) kinds() []types.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.EventKind, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

func req(id string, deps ...string) *Request {
	return &Request{ID: id, ToolName: id, Dependencies: deps}
}

func TestOrchestrate_DiamondAllSucceed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlobalTimeout = 5 * time.Second
	o := New(cfg, nil, nil, nil, nil, nil)

	requests := []*Request{req("A"), req("B", "A"), req("C", "A"), req("D", "B", "C")}
	exec := ToolExecutorFunc(func(ctx context.Context, r *Request) (interface{}, error) {
		return r.ToolName + "-done", nil
	})
	sink := &collectingSink{}

	result, err := o.Orchestrate(context.Background(), "plan-1", requests, exec, sink)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 4, result.Successful)

	snap := o.Metrics()
	assert.Equal(t, int64(1), snap.TotalOrchestrations)
	assert.Equal(t, int64(1), snap.SuccessfulOrchestrations)
}

func TestOrchestrate_EmptyPlanIDIsGenerated(t *testing.T) {
	o := New(DefaultConfig(), nil, nil, nil, nil, nil)
	exec := ToolExecutorFunc(func(ctx context.Context, r *Request) (interface{}, error) {
		return "ok", nil
	})
	result, err := o.Orchestrate(context.Background(), "", []*Request{req("A")}, exec, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Plan.ID)
}

func TestOrchestrate_RejectsCycleBeforeRunning(t *testing.T) {
	o := New(DefaultConfig(), nil, nil, nil, nil, nil)
	requests := []*Request{req("A", "B"), req("B", "A")}
	exec := ToolExecutorFunc(func(ctx context.Context, r *Request) (interface{}, error) {
		t.Fatal("executor must not run when plan validation fails")
		return nil, nil
	})
	sink := &collectingSink{}
	_, err := o.Orchestrate(context.Background(), "plan-2", requests, exec, sink)
	assert.Error(t, err, "expected validation error for a cyclic batch")

	kinds := sink.kinds()
	require.Len(t, kinds, 1)
	assert.Equal(t, types.EventOrchestrationFinished, kinds[0])
	require.NotEmpty(t, sink.events)
	assert.NotEmpty(t, sink.events[0].Summary.Error)
}

func TestOrchestrate_ResourceContentionSerializesExclusiveHolders(t *testing.T) {
	o := New(DefaultConfig(), nil, nil, nil, nil, nil)
	require.NoError(t, o.RegisterPool("lock", 1))

	a := req("A")
	a.RequiredResources = []ResourceRequirement{{Resource: "lock", Units: 1, Exclusive: true}}
	b := req("B")
	b.RequiredResources = []ResourceRequirement{{Resource: "lock", Units: 1, Exclusive: true}}

	exec := ToolExecutorFunc(func(ctx context.Context, r *Request) (interface{}, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	result, err := o.Orchestrate(context.Background(), "plan-3", []*Request{a, b}, exec, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Successful)

	snap := o.Snapshots()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].Available, "expected lock pool fully released")
}

func TestOrchestrate_CriticalFailureMarksOverallFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowPartialSuccess = true
	o := New(cfg, nil, nil, nil, nil, nil)

	a := req("A")
	a.IsCritical = true
	requests := []*Request{a, req("B")}

	exec := ToolExecutorFunc(func(ctx context.Context, r *Request) (interface{}, error) {
		if r.ToolName == "A" {
			return nil, fmt.Errorf("fatal")
		}
		return "ok", nil
	})
	result, err := o.Orchestrate(context.Background(), "plan-4", requests, exec, nil)
	require.NoError(t, err)
	assert.False(t, result.Success, "expected overall failure when a critical request fails")
}

func TestOrchestrate_ArgumentSchemaValidationRejectsBadInput(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.RegisterSchema("grep", []byte(`{
		"type": "object",
		"required": ["pattern"],
		"properties": {"pattern": {"type": "string"}}
	}`)))
	o := New(DefaultConfig(), nil, nil, nil, nil, registry)

	bad := req("grep")
	bad.Arguments = map[string]interface{}{"pattern": 5}
	exec := ToolExecutorFunc(func(ctx context.Context, r *Request) (interface{}, error) {
		t.Fatal("executor must not run for an argument that fails schema validation")
		return nil, nil
	})
	_, err := o.Orchestrate(context.Background(), "plan-5", []*Request{bad}, exec, nil)
	assert.Error(t, err, "expected schema validation error")
}

func TestOrchestrate_EmitsFullEventLifecycle(t *testing.T) {
	o := New(DefaultConfig(), nil, nil, nil, nil, nil)
	exec := ToolExecutorFunc(func(ctx context.Context, r *Request) (interface{}, error) {
		return "ok", nil
	})
	sink := &collectingSink{}
	_, err := o.Orchestrate(context.Background(), "plan-6", []*Request{req("A")}, exec, sink)
	require.NoError(t, err)

	kinds := sink.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, types.EventPlanBuilt, kinds[0])
	assert.Equal(t, types.EventOrchestrationFinished, kinds[len(kinds)-1])
}
