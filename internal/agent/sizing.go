package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/state"
)

// Calculator sizes a system for a load and location.
type Calculator interface {
	Calculate(ctx context.Context, systemType string, appliances []sizing.Appliance, pos sizing.Position, batteryType string) (sizing.Result, error)
}

// NewSizer returns the sizing agent. It runs the sizing engine over the
// job's appliance load and mirrors the resulting figures onto the record.
func NewSizer(engine Calculator, store Store, broadcast Broadcaster) Func {
	return func(ctx context.Context, st state.JobState) state.JobState {
		if len(st.Appliances) == 0 {
			return st.Append(state.NodeSizing, state.OutcomeSkipped,
				"no appliances listed, sizing skipped")
		}
		if st.Position == nil {
			return st.Append(state.NodeSizing, state.OutcomeSkipped,
				"no site position, sizing skipped")
		}

		res, err := engine.Calculate(ctx, st.SystemType, st.Appliances, *st.Position, st.BatteryType)
		if err != nil {
			return st.Append(state.NodeSizing, state.OutcomeFailed,
				fmt.Sprintf("sizing failed: %v", err))
		}

		next := st.Clone()
		next.Sizing = &res
		next.Status = state.StatusInProgress

		committed, ok := commit(next, state.NodeSizing, store, broadcast)
		if !ok {
			return committed
		}

		slog.Info("job sized", "job_id", next.JobID,
			"panels", res.PanelsRequired, "total_cost_ksh", res.TotalCostKsh)
		return committed.Append(state.NodeSizing, state.OutcomeSized,
			fmt.Sprintf("Sized: %d panels, %d inverters, %.0f KSh total",
				res.PanelsRequired, res.InvertersRequired, res.TotalCostKsh))
	}
}
