// Package dag builds a validated execution plan from a batch of tool
// requests: it rejects duplicate ids, unknown dependencies, and cycles, then
// computes a deterministic topological order and a phase decomposition of
// mutually-independent requests.
package dag

import (
	"fmt"
	"sort"

	"github.com/devmind-run/orchestrator-core/errs"
	"github.com/devmind-run/orchestrator-core/types"
)

// color marks DFS visitation state for cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully explored
)

// Analyze validates requests and builds an ExecutionPlan. planID is used
// verbatim as ExecutionPlan.ID (the caller generates it, typically with
// uuid.New(), so the analyzer itself stays deterministic and dependency-free
// of any id-generation scheme).
func Analyze(planID string, requests []*types.ToolExecutionRequest) (*types.ExecutionPlan, error) {
	nodes := make(map[string]*types.ToolExecutionRequest, len(requests))
	order := make([]string, 0, len(requests))

	for _, r := range requests {
		id := r.EffectiveID()
		if err := validateRequest(r, id); err != nil {
			return nil, err
		}
		if _, exists := nodes[id]; exists {
			return nil, errs.New("dag.Analyze", errs.InvalidInput, id,
				fmt.Errorf("%w: %s", errs.ErrDuplicateID, id))
		}
		nodes[id] = r
		order = append(order, id)
	}

	for _, id := range order {
		for _, dep := range nodes[id].Dependencies {
			if dep == id {
				return nil, errs.New("dag.Analyze", errs.InvalidInput, id,
					fmt.Errorf("%w: %s", errs.ErrSelfDependency, id))
			}
			if _, ok := nodes[dep]; !ok {
				return nil, errs.New("dag.Analyze", errs.InvalidInput, id,
					fmt.Errorf("%w: %s depends on %s", errs.ErrUnknownDependency, id, dep))
			}
		}
	}

	edges := buildReverseIndex(nodes)

	if cycle := detectCycle(nodes, order); cycle != nil {
		return nil, errs.New("dag.Analyze", errs.InvalidInput, "",
			fmt.Errorf("%w: %v", errs.ErrCycle, cycle))
	}

	topo, err := kahnOrder(nodes, order)
	if err != nil {
		// Unreachable once detectCycle above has passed, but kept so a
		// logic bug here fails loudly instead of returning a bad order.
		return nil, errs.New("dag.Analyze", errs.InvalidInput, "", err)
	}

	phases, err := assignPhases(nodes, topo)
	if err != nil {
		return nil, errs.New("dag.Analyze", errs.InvalidInput, "", err)
	}

	return &types.ExecutionPlan{
		ID:               planID,
		Nodes:            nodes,
		Edges:            edges,
		TopologicalOrder: topo,
		Phases:           phases,
	}, nil
}

func validateRequest(r *types.ToolExecutionRequest, id string) error {
	if r.ToolName == "" {
		return errs.New("dag.Analyze", errs.InvalidInput, id, errs.ErrEmptyToolName)
	}
	if r.Priority < 0 || r.Priority > 1 {
		return errs.New("dag.Analyze", errs.InvalidInput, id, errs.ErrPriorityOutOfRange)
	}
	for _, res := range r.RequiredResources {
		if res.Units < 1 {
			return errs.New("dag.Analyze", errs.InvalidInput, id,
				fmt.Errorf("resource %q: units must be >= 1", res.Resource))
		}
	}
	return nil
}

func buildReverseIndex(nodes map[string]*types.ToolExecutionRequest) map[string][]string {
	edges := make(map[string][]string, len(nodes))
	ids := sortedKeys(nodes)
	for _, id := range ids {
		for _, dep := range nodes[id].Dependencies {
			edges[dep] = append(edges[dep], id)
		}
	}
	return edges
}

// detectCycle runs a recursive three-color DFS over the dependency edges
// (id -> its dependencies) and returns the cycle's ids in traversal order,
// or nil if the graph is acyclic.
func detectCycle(nodes map[string]*types.ToolExecutionRequest, order []string) []string {
	colors := make(map[string]color, len(nodes))
	var stack []string // current DFS path, for reporting the cycle

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = gray
		stack = append(stack, id)

		deps := append([]string(nil), nodes[id].Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch colors[dep] {
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			case gray:
				// Back edge: found a cycle. Report the path from dep's
				// first occurrence through the current node.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cyc := append([]string(nil), stack[start:]...)
				return append(cyc, dep)
			case black:
				// Already fully explored via another path; no cycle here.
			}
		}

		colors[id] = black
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, id := range order {
		if colors[id] == white {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// kahnOrder computes a topological order processing ready nodes in
// deterministic order: descending priority, then ascending id.
func kahnOrder(nodes map[string]*types.ToolExecutionRequest, order []string) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	for _, id := range order {
		inDegree[id] = len(nodes[id].Dependencies)
	}

	ready := readyQueue(nodes, inDegree, nil)
	result := make([]string, 0, len(nodes))

	// reverse index for decrementing dependents as nodes are consumed
	dependents := buildReverseIndex(nodes)

	remaining := make(map[string]bool, len(nodes))
	for _, id := range order {
		remaining[id] = true
	}

	for len(ready) > 0 {
		sortByPriorityThenID(ready, nodes)
		current := ready[0]
		ready = ready[1:]
		result = append(result, current)
		delete(remaining, current)

		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(result) != len(nodes) {
		return nil, errs.ErrCycle
	}
	return result, nil
}

func readyQueue(nodes map[string]*types.ToolExecutionRequest, inDegree map[string]int, _ []string) []string {
	var ready []string
	ids := sortedKeys(nodes)
	for _, id := range ids {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

func sortByPriorityThenID(ids []string, nodes map[string]*types.ToolExecutionRequest) {
	sort.SliceStable(ids, func(i, j int) bool {
		pi, pj := nodes[ids[i]].Priority, nodes[ids[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return ids[i] < ids[j]
	})
}

// assignPhases computes phase(n) = 0 if n has no dependencies, else
// 1 + max(phase(d) for d in deps(n)), then groups ids by phase index, each
// phase ordered by descending priority, then ascending id.
func assignPhases(nodes map[string]*types.ToolExecutionRequest, topo []string) ([][]string, error) {
	phaseOf := make(map[string]int, len(nodes))
	for _, id := range topo {
		deps := nodes[id].Dependencies
		if len(deps) == 0 {
			phaseOf[id] = 0
			continue
		}
		max := -1
		for _, dep := range deps {
			p, ok := phaseOf[dep]
			if !ok {
				return nil, fmt.Errorf("phase of dependency %s not yet computed for %s", dep, id)
			}
			if p > max {
				max = p
			}
		}
		phaseOf[id] = max + 1
	}

	var maxPhase int
	for _, p := range phaseOf {
		if p > maxPhase {
			maxPhase = p
		}
	}

	phases := make([][]string, maxPhase+1)
	for _, id := range topo {
		p := phaseOf[id]
		phases[p] = append(phases[p], id)
	}
	for i := range phases {
		sortByPriorityThenID(phases[i], nodes)
	}
	return phases, nil
}

func sortedKeys(nodes map[string]*types.ToolExecutionRequest) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
