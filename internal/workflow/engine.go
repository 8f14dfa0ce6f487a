package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solarsync/solarsync/internal/agent"
	"github.com/solarsync/solarsync/internal/state"
)

// maxSteps bounds one run. The longest legitimate path (create, size,
// triage, assign, notify, weather, resize loop) is well under this; hitting
// the bound means the graph is cycling.
const maxSteps = 16

// edges declares the legal transitions. The supervisor only ever picks a
// successor from this set; a decision outside it stops the run and is logged
// as a routing defect.
var edges = map[string][]string{
	state.NodeCreator:      {state.NodeSizing},
	state.NodeSizing:       {state.NodeTriage, state.NodeNotification},
	state.NodeTriage:       {state.NodeAssignment, state.NodeNotification},
	state.NodeAssignment:   {state.NodeNotification},
	state.NodeNotification: {state.NodeWeatherCheck},
	state.NodeWeatherCheck: {state.NodeSizing},
	state.NodeCompletion:   {},
}

// Engine runs job state through the agent graph.
type Engine struct {
	nodes map[string]agent.Func
}

// NewEngine builds an Engine over the given agents, keyed by node name.
// Every node named in the graph must be present.
func NewEngine(nodes map[string]agent.Func) (*Engine, error) {
	for node := range edges {
		if _, ok := nodes[node]; !ok {
			return nil, fmt.Errorf("graph node %q has no agent", node)
		}
	}
	return &Engine{nodes: nodes}, nil
}

// Run executes the graph from the given start node until the supervisor
// decides to end, a transition falls outside the declared edges, the step
// bound is hit, or the context is canceled. The final state is returned in
// every case.
func (e *Engine) Run(ctx context.Context, start string, st state.JobState) (state.JobState, error) {
	fn, ok := e.nodes[start]
	if !ok {
		return st, fmt.Errorf("unknown start node %q", start)
	}

	current := start
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("run canceled at %s: %w", current, err)
		}

		st = runNode(ctx, current, fn, st)

		next := Next(st)
		if next == End {
			return st, nil
		}
		if !allowed(current, next) {
			slog.Error("undeclared transition, stopping run",
				"job_id", st.JobID, "from", current, "to", next)
			return st, nil
		}

		current = next
		fn = e.nodes[current]
	}

	slog.Error("step bound reached, stopping run", "job_id", st.JobID, "steps", maxSteps)
	return st, nil
}

// runNode executes one agent with a panic boundary: a panicking agent is
// converted into a failed log entry instead of taking down the run.
func runNode(ctx context.Context, node string, fn agent.Func, st state.JobState) (out state.JobState) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent panicked", "node", node, "job_id", st.JobID, "panic", r)
			out = st.Append(node, state.OutcomeFailed, fmt.Sprintf("agent panicked: %v", r))
		}
	}()
	return fn(ctx, st)
}

func allowed(from, to string) bool {
	for _, n := range edges[from] {
		if n == to {
			return true
		}
	}
	return false
}
