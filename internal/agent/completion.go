package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solarsync/solarsync/internal/state"
)

// NewCompleter returns the completion agent. It closes the job out: status
// moves to completed, the actual end time is stamped, and any customer
// feedback is kept on the record.
func NewCompleter(store Store, broadcast Broadcaster) Func {
	return func(ctx context.Context, st state.JobState) state.JobState {
		if st.JobID == "" {
			return st.Append(state.NodeCompletion, state.OutcomeSkipped,
				"no job id, completion skipped")
		}
		if st.Status == state.StatusCompleted {
			return st.Append(state.NodeCompletion, state.OutcomeSkipped,
				"job already completed")
		}

		next := st.Clone()
		next.Status = state.StatusCompleted

		job, err := jobRecord(next)
		if err != nil {
			return st.Append(state.NodeCompletion, state.OutcomeFailed, err.Error())
		}
		now := time.Now().UTC()
		job.ActualEnd = &now

		if _, err := store.UpsertJob(job); err != nil {
			return st.Append(state.NodeCompletion, state.OutcomeFailed,
				fmt.Sprintf("persisting job: %v", err))
		}
		broadcast.NotifyJobChanged(next.JobID)

		slog.Info("job completed", "job_id", next.JobID)
		return next.Append(state.NodeCompletion, state.OutcomeCompleted,
			fmt.Sprintf("Job %s completed", next.JobID))
	}
}
