package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
)

type mockStateStore struct {
	saveFn   func(jobID string, stateJSON []byte, ttl time.Duration) error
	loadFn   func(jobID string) ([]byte, error)
	deleteFn func(jobID string) error
	getJobFn func(id string) (storage.Job, error)
}

func (m *mockStateStore) SaveJobState(jobID string, stateJSON []byte, ttl time.Duration) error {
	if m.saveFn == nil {
		return nil
	}
	return m.saveFn(jobID, stateJSON, ttl)
}

func (m *mockStateStore) LoadJobState(jobID string) ([]byte, error) {
	if m.loadFn == nil {
		return nil, storage.ErrNotFound
	}
	return m.loadFn(jobID)
}

func (m *mockStateStore) DeleteJobState(jobID string) error {
	if m.deleteFn == nil {
		return nil
	}
	return m.deleteFn(jobID)
}

func (m *mockStateStore) GetJob(id string) (storage.Job, error) {
	if m.getJobFn == nil {
		return storage.Job{}, storage.ErrNotFound
	}
	return m.getJobFn(id)
}

func testEngine(t *testing.T, nodes map[string]state.Outcome) *Engine {
	t.Helper()
	fns := happyNodes()
	for node, outcome := range nodes {
		fns[node] = appendOnly(node, outcome)
	}
	e, err := NewEngine(fns)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestSubmitPersistsFinalState(t *testing.T) {
	var saved []byte
	var savedTTL time.Duration
	store := &mockStateStore{saveFn: func(jobID string, stateJSON []byte, ttl time.Duration) error {
		saved = stateJSON
		savedTTL = ttl
		return nil
	}}

	r := NewRunner(testEngine(t, nil), store, 0)
	out, err := r.Submit(context.Background(), state.JobState{JobID: "job-1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if saved == nil {
		t.Fatal("state was not persisted")
	}
	if savedTTL != defaultStateTTL {
		t.Errorf("ttl = %v, want default", savedTTL)
	}

	var round state.JobState
	if err := json.Unmarshal(saved, &round); err != nil {
		t.Fatalf("persisted state does not decode: %v", err)
	}
	if len(round.Events) != len(out.Events) {
		t.Errorf("persisted %d events, run produced %d", len(round.Events), len(out.Events))
	}
}

func TestRecheckResetsEventLog(t *testing.T) {
	prior := state.JobState{
		JobID:  "job-1",
		Events: []state.Entry{{Agent: state.NodeNotification, Outcome: state.OutcomeNotified}},
	}
	raw, _ := json.Marshal(prior)
	store := &mockStateStore{loadFn: func(jobID string) ([]byte, error) {
		return raw, nil
	}}

	r := NewRunner(testEngine(t, nil), store, time.Hour)
	out, err := r.Recheck(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Recheck: %v", err)
	}

	// The prior run's entries must not leak into this run's routing.
	if out.Events[0].Agent != state.NodeWeatherCheck {
		t.Errorf("first event = %+v, want weather_check", out.Events[0])
	}
}

func TestCompleteRetiresState(t *testing.T) {
	prior := state.JobState{JobID: "job-1", Status: state.StatusInProgress}
	raw, _ := json.Marshal(prior)
	deleted := false
	store := &mockStateStore{
		loadFn:   func(jobID string) ([]byte, error) { return raw, nil },
		deleteFn: func(jobID string) error { deleted = true; return nil },
		saveFn: func(jobID string, stateJSON []byte, ttl time.Duration) error {
			t.Error("completed job state must be deleted, not saved")
			return nil
		},
	}

	nodes := happyNodes()
	nodes[state.NodeCompletion] = func(ctx context.Context, st state.JobState) state.JobState {
		out := st.Clone()
		out.Status = state.StatusCompleted
		return out.Append(state.NodeCompletion, state.OutcomeCompleted, "done")
	}
	e, err := NewEngine(nodes)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	r := NewRunner(e, store, time.Hour)
	out, err := r.Complete(context.Background(), "job-1", "all good")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Feedback != "all good" {
		t.Errorf("feedback = %q", out.Feedback)
	}
	if !deleted {
		t.Error("state was not retired")
	}
}

func TestLoadStateRebuildsFromJobRecord(t *testing.T) {
	store := &mockStateStore{
		getJobFn: func(id string) (storage.Job, error) {
			return storage.Job{
				ID:             id,
				Description:    "maintenance visit",
				SystemType:     sizing.SystemHybrid,
				BatteryType:    sizing.BatteryLithiumIon,
				Status:         storage.StatusInProgress,
				PositionLat:    -1.27,
				PositionLon:    36.84,
				AppliancesJSON: `[{"name":"fridge","quantity":1,"runtime_hrs":24}]`,
				PanelsRequired: 5,
				TotalCostKsh:   250000,
				RoiYears:       0,
				DateCreated:    time.Now().UTC(),
			}, nil
		},
	}

	r := NewRunner(testEngine(t, nil), store, time.Hour)
	st, err := r.loadState("job-1")
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}

	if st.Position == nil || st.Position.Lat != -1.27 {
		t.Errorf("position = %+v", st.Position)
	}
	if len(st.Appliances) != 1 || st.Appliances[0].Name != "fridge" {
		t.Errorf("appliances = %+v", st.Appliances)
	}
	if st.Sizing == nil || st.Sizing.PanelsRequired != 5 {
		t.Fatalf("sizing = %+v", st.Sizing)
	}
	if !st.Sizing.RoiYears.IsInf() {
		t.Error("stored roi 0 must rebuild as infinite")
	}
	if len(st.Events) != 0 {
		t.Error("rebuilt state must start with an empty log")
	}
}
