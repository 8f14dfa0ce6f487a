// Package workflow routes job state through the step agents. The supervisor
// is a pure function over the event log's structured outcomes; the engine
// executes agents and enforces the declared graph; the runner adds durable
// state handling around whole runs.
package workflow

import (
	"github.com/solarsync/solarsync/internal/state"
)

// End is the supervisor's terminal decision.
const End = "end"

// Next decides the node to run after the given state, from the event log
// alone. Rules are checked in order:
//
//  1. An unresolved resize trigger restarts sizing.
//  2. An urgent job that nobody has been told about goes to notification.
//  3. Otherwise the last entry's outcome determines the successor; anything
//     unrecognized ends the run.
func Next(st state.JobState) string {
	last, ok := st.LastEntry()
	if !ok {
		return End
	}

	if resizePending(st) {
		return state.NodeSizing
	}

	if st.Priority == state.PriorityHigh &&
		!st.HasOutcome(state.OutcomeNotified) &&
		!st.HasOutcome(state.OutcomeNotifyExhausted) {
		return state.NodeNotification
	}

	switch last.Outcome {
	case state.OutcomeCreated:
		return state.NodeSizing
	case state.OutcomeSized:
		return state.NodeTriage
	case state.OutcomePredicted:
		return state.NodeAssignment
	case state.OutcomeAssigned:
		return state.NodeNotification
	case state.OutcomeNotified, state.OutcomeNotifyExhausted:
		return state.NodeWeatherCheck
	default:
		return End
	}
}

// resizePending reports whether the log holds a resize trigger that sizing
// has not answered yet. A sized entry after the last trigger resolves it.
func resizePending(st state.JobState) bool {
	lastTrigger := -1
	for i, e := range st.Events {
		if e.Outcome == state.OutcomeTriggerResize {
			lastTrigger = i
		}
	}
	if lastTrigger < 0 {
		return false
	}
	for _, e := range st.Events[lastTrigger+1:] {
		if e.Outcome == state.OutcomeSized {
			return false
		}
	}
	return true
}
