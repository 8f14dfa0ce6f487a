package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
	"github.com/solarsync/solarsync/internal/triage"
)

// Predictor estimates priority, effort, and a technician candidate.
type Predictor interface {
	Predict(ctx context.Context, description, systemType, batteryType string, costs triage.EquipmentCosts) triage.Result
}

// NewTriager returns the triage agent. Triage needs a persisted job: it
// appends an immutable prediction row and updates the record's priority and
// technician candidate.
func NewTriager(predictor Predictor, store Store, broadcast Broadcaster) Func {
	return func(ctx context.Context, st state.JobState) state.JobState {
		if st.JobID == "" {
			return st.Append(state.NodeTriage, state.OutcomeSkipped,
				"no job id, triage skipped")
		}
		if _, err := store.GetJob(st.JobID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return st.Append(state.NodeTriage, state.OutcomeFailed,
					fmt.Sprintf("job %s not found", st.JobID))
			}
			return st.Append(state.NodeTriage, state.OutcomeFailed,
				fmt.Sprintf("loading job: %v", err))
		}

		res := predictor.Predict(ctx, st.Description, st.SystemType, st.BatteryType, equipmentCosts(st.Sizing))

		if _, err := store.AppendPrediction(storage.Prediction{
			JobID:         st.JobID,
			Priority:      res.Priority,
			DurationHours: res.DurationHours,
			LaborKsh:      res.LaborKsh,
			TransportKsh:  res.TransportKsh,
			Diagnosis:     res.Diagnosis,
		}); err != nil {
			return st.Append(state.NodeTriage, state.OutcomeFailed,
				fmt.Sprintf("recording prediction: %v", err))
		}

		next := st.Clone()
		next.Priority = res.Priority
		next.TechnicianID = res.TechnicianID
		next.Diagnosis = res.Diagnosis

		committed, ok := commit(next, state.NodeTriage, store, broadcast)
		if !ok {
			return committed
		}

		slog.Info("job triaged", "job_id", next.JobID,
			"priority", res.Priority, "technician_id", res.TechnicianID)
		return committed.Append(state.NodeTriage, state.OutcomePredicted,
			fmt.Sprintf("Predicted %s priority, %.1fh: %s", res.Priority, res.DurationHours, res.Diagnosis))
	}
}
