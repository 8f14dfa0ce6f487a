package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
)

// NewAssigner returns the assignment agent. It resolves the triage
// candidate against the roster and writes the technician's display fields
// onto the job. A missing candidate is not an error: the job continues
// unassigned and dispatch handles it manually.
func NewAssigner(store Store, broadcast Broadcaster) Func {
	return func(ctx context.Context, st state.JobState) state.JobState {
		if st.TechnicianID == "" {
			return st.Append(state.NodeAssignment, state.OutcomeSkipped,
				"no technician candidate, assignment skipped")
		}

		tech, err := store.GetTechnician(st.TechnicianID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				slog.Warn("assignment: candidate not on roster", "job_id", st.JobID, "technician_id", st.TechnicianID)
				return st.Append(state.NodeAssignment, state.OutcomeSkipped,
					fmt.Sprintf("technician %s not on roster, assignment skipped", st.TechnicianID))
			}
			return st.Append(state.NodeAssignment, state.OutcomeFailed,
				fmt.Sprintf("loading technician: %v", err))
		}

		next := st.Clone()
		next.TechnicianName = tech.FullName()
		next.TechnicianLogin = tech.Email

		committed, ok := commit(next, state.NodeAssignment, store, broadcast)
		if !ok {
			return committed
		}

		slog.Info("technician assigned", "job_id", next.JobID, "technician", next.TechnicianName)
		return committed.Append(state.NodeAssignment, state.OutcomeAssigned,
			fmt.Sprintf("Assigned to %s", next.TechnicianName))
	}
}
