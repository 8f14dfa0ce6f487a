package workflow

import (
	"testing"

	"github.com/solarsync/solarsync/internal/state"
)

func withEntries(entries ...state.Entry) state.JobState {
	return state.JobState{JobID: "job-1", Events: entries}
}

func entry(agent string, outcome state.Outcome) state.Entry {
	return state.Entry{Agent: agent, Outcome: outcome}
}

func TestNextEmptyLogEnds(t *testing.T) {
	if got := Next(state.JobState{}); got != End {
		t.Errorf("Next(empty) = %q, want end", got)
	}
}

func TestNextLastEntryTable(t *testing.T) {
	cases := []struct {
		outcome state.Outcome
		want    string
	}{
		{state.OutcomeCreated, state.NodeSizing},
		{state.OutcomeSized, state.NodeTriage},
		{state.OutcomePredicted, state.NodeAssignment},
		{state.OutcomeAssigned, state.NodeNotification},
		{state.OutcomeNotified, state.NodeWeatherCheck},
		{state.OutcomeNotifyExhausted, state.NodeWeatherCheck},
		{state.OutcomeWeatherChecked, End},
		{state.OutcomeCompleted, End},
		{state.OutcomeSkipped, End},
		{state.OutcomeFailed, End},
	}
	for _, tc := range cases {
		st := withEntries(entry("any", tc.outcome))
		if got := Next(st); got != tc.want {
			t.Errorf("Next(last=%s) = %q, want %q", tc.outcome, got, tc.want)
		}
	}
}

func TestNextResizeTriggerTakesPrecedence(t *testing.T) {
	st := withEntries(
		entry(state.NodeWeatherCheck, state.OutcomeTriggerResize),
	)
	if got := Next(st); got != state.NodeSizing {
		t.Errorf("Next = %q, want sizing", got)
	}

	// The trigger outranks the last-entry table even mid-run.
	st = withEntries(
		entry(state.NodeWeatherCheck, state.OutcomeTriggerResize),
		entry(state.NodeNotification, state.OutcomeNotified),
	)
	if got := Next(st); got != state.NodeSizing {
		t.Errorf("Next = %q, want sizing", got)
	}
}

func TestNextResizeResolvedBySizing(t *testing.T) {
	st := withEntries(
		entry(state.NodeWeatherCheck, state.OutcomeTriggerResize),
		entry(state.NodeSizing, state.OutcomeSized),
	)
	if got := Next(st); got != state.NodeTriage {
		t.Errorf("Next = %q, want triage (trigger already answered)", got)
	}
}

func TestNextUrgentJobJumpsToNotification(t *testing.T) {
	st := withEntries(
		entry(state.NodeTriage, state.OutcomePredicted),
	)
	st.Priority = state.PriorityHigh
	if got := Next(st); got != state.NodeNotification {
		t.Errorf("Next = %q, want notification", got)
	}
}

func TestNextUrgentJobAlreadyNotified(t *testing.T) {
	st := withEntries(
		entry(state.NodeNotification, state.OutcomeNotified),
	)
	st.Priority = state.PriorityHigh
	if got := Next(st); got != state.NodeWeatherCheck {
		t.Errorf("Next = %q, want weather_check", got)
	}
}

func TestNextUrgentJobExhaustedDoesNotLoop(t *testing.T) {
	st := withEntries(
		entry(state.NodeNotification, state.OutcomeNotifyExhausted),
	)
	st.Priority = state.PriorityHigh
	if got := Next(st); got != state.NodeWeatherCheck {
		t.Errorf("Next = %q, want weather_check (no retry loop)", got)
	}
}

func TestNextIsPure(t *testing.T) {
	st := withEntries(
		entry(state.NodeCreator, state.OutcomeCreated),
		entry(state.NodeSizing, state.OutcomeSized),
	)
	st.Priority = state.PriorityLow

	first := Next(st)
	for i := 0; i < 5; i++ {
		if got := Next(st); got != first {
			t.Fatalf("Next changed between calls: %q then %q", first, got)
		}
	}
	if len(st.Events) != 2 {
		t.Error("Next must not mutate the log")
	}
}
