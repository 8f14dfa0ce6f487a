package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solarsync/solarsync/internal/state"
)

// NewCreator returns the intake agent. It mints the job identity, stamps the
// creation time, and persists the initial pending record.
func NewCreator(store Store, broadcast Broadcaster) Func {
	return func(ctx context.Context, st state.JobState) state.JobState {
		if st.Description == "" || st.SystemType == "" {
			return st.Append(state.NodeCreator, state.OutcomeSkipped,
				"missing description or system type, nothing to create")
		}

		next := st.Clone()
		if next.JobID == "" {
			next.JobID = uuid.NewString()
		}
		next.Status = state.StatusPending
		if next.DateCreated == nil {
			now := time.Now().UTC()
			next.DateCreated = &now
		}

		committed, ok := commit(next, state.NodeCreator, store, broadcast)
		if !ok {
			return committed
		}

		slog.Info("job created", "job_id", next.JobID, "system_type", next.SystemType)
		return committed.Append(state.NodeCreator, state.OutcomeCreated,
			fmt.Sprintf("Job %s created", next.JobID))
	}
}
