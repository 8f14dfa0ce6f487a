package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
)

// defaultStateTTL is how long a job's serialized pipeline state survives
// between runs before re-entry has to rebuild it from the job record.
const defaultStateTTL = 24 * time.Hour

// StateStore persists serialized pipeline state and the job records it is
// rebuilt from when the state has expired.
type StateStore interface {
	SaveJobState(jobID string, stateJSON []byte, ttl time.Duration) error
	LoadJobState(jobID string) ([]byte, error)
	DeleteJobState(jobID string) error
	GetJob(id string) (storage.Job, error)
}

// Runner wraps the engine with durable state handling: every run's final
// state is saved for later re-entry, and completing a job retires its state.
type Runner struct {
	engine *Engine
	store  StateStore
	ttl    time.Duration
}

// NewRunner creates a Runner. ttl <= 0 uses the default state lifetime.
func NewRunner(engine *Engine, store StateStore, ttl time.Duration) *Runner {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &Runner{engine: engine, store: store, ttl: ttl}
}

// Submit runs a new job through the full pipeline from intake.
func (r *Runner) Submit(ctx context.Context, st state.JobState) (state.JobState, error) {
	out, err := r.engine.Run(ctx, state.NodeCreator, st)
	if err != nil {
		return out, err
	}
	return out, r.persist(out)
}

// Recheck re-enters an existing job at the weather node with a fresh event
// log, so routing reflects only this run.
func (r *Runner) Recheck(ctx context.Context, jobID string) (state.JobState, error) {
	st, err := r.loadState(jobID)
	if err != nil {
		return state.JobState{}, err
	}

	out, err := r.engine.Run(ctx, state.NodeWeatherCheck, st.ResetEvents())
	if err != nil {
		return out, err
	}
	return out, r.persist(out)
}

// Complete closes a job out with optional customer feedback.
func (r *Runner) Complete(ctx context.Context, jobID, feedback string) (state.JobState, error) {
	st, err := r.loadState(jobID)
	if err != nil {
		return state.JobState{}, err
	}
	st = st.ResetEvents()
	st.Feedback = feedback

	out, err := r.engine.Run(ctx, state.NodeCompletion, st)
	if err != nil {
		return out, err
	}
	return out, r.persist(out)
}

// persist saves the run's final state for re-entry, or retires it once the
// job is done.
func (r *Runner) persist(st state.JobState) error {
	if st.JobID == "" {
		return nil
	}
	if st.Status == state.StatusCompleted {
		return r.store.DeleteJobState(st.JobID)
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("serializing state for job %s: %w", st.JobID, err)
	}
	return r.store.SaveJobState(st.JobID, raw, r.ttl)
}

// loadState restores a job's pipeline state, rebuilding it from the durable
// job record when the serialized copy has expired.
func (r *Runner) loadState(jobID string) (state.JobState, error) {
	raw, err := r.store.LoadJobState(jobID)
	if err == nil {
		var st state.JobState
		if uerr := json.Unmarshal(raw, &st); uerr != nil {
			return state.JobState{}, fmt.Errorf("decoding state for job %s: %w", jobID, uerr)
		}
		return st, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return state.JobState{}, fmt.Errorf("loading state for job %s: %w", jobID, err)
	}

	job, err := r.store.GetJob(jobID)
	if err != nil {
		return state.JobState{}, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	return StateFromJob(job)
}

// StateFromJob rebuilds pipeline state from a durable job record, used when
// the serialized state has expired. The event log starts empty.
func StateFromJob(job storage.Job) (state.JobState, error) {
	st := state.JobState{
		JobID:           job.ID,
		UserID:          job.UserID,
		Description:     job.Description,
		SystemType:      job.SystemType,
		BatteryType:     job.BatteryType,
		Status:          job.Status,
		Priority:        job.Priority,
		TechnicianID:    job.TechnicianID,
		TechnicianName:  job.TechnicianName,
		TechnicianLogin: job.TechnicianLogin,
		ScheduledStart:  job.ScheduledStart,
		ScheduledEnd:    job.ScheduledEnd,
		Feedback:        job.Feedback,
	}

	if job.AppliancesJSON != "" {
		if err := json.Unmarshal([]byte(job.AppliancesJSON), &st.Appliances); err != nil {
			return state.JobState{}, fmt.Errorf("decoding appliances for job %s: %w", job.ID, err)
		}
	}
	if job.ContactJSON != "" {
		if err := json.Unmarshal([]byte(job.ContactJSON), &st.Contact); err != nil {
			return state.JobState{}, fmt.Errorf("decoding contact for job %s: %w", job.ID, err)
		}
	}
	if job.AddressJSON != "" {
		if err := json.Unmarshal([]byte(job.AddressJSON), &st.Address); err != nil {
			return state.JobState{}, fmt.Errorf("decoding address for job %s: %w", job.ID, err)
		}
	}

	if job.PositionLat != 0 || job.PositionLon != 0 {
		st.Position = &sizing.Position{Lat: job.PositionLat, Lon: job.PositionLon}
	}
	if !job.DateCreated.IsZero() {
		t := job.DateCreated
		st.DateCreated = &t
	}
	if job.LastWeatherCheck != nil {
		t := *job.LastWeatherCheck
		st.LastWeatherCheck = &t
	}
	st.LastPeakSunHours = job.LastPeakSunHours

	// A sized job carries its figures back into the state so a later
	// mirror upsert does not wipe them.
	if job.PanelsRequired > 0 || job.TotalCostKsh > 0 {
		res := sizing.Result{
			LoadDemandKwh:       job.LoadDemandKwh,
			PeakSunHours:        job.PeakSunHours,
			PanelCapacityKw:     job.PanelCapacityKw,
			BatteryCapacityKwh:  job.BatteryCapacityKwh,
			InverterCapacityKw:  job.InverterCapacityKw,
			PanelsRequired:      job.PanelsRequired,
			InvertersRequired:   job.InvertersRequired,
			DailyOutputKwh:      job.DailyOutputKwh,
			ExcessKwh:           job.ExcessKwh,
			PanelCostKsh:        job.PanelCostKsh,
			BatteryCostKsh:      job.BatteryCostKsh,
			InverterCostKsh:     job.InverterCostKsh,
			InstallationCostKsh: job.InstallCostKsh,
			TotalCostKsh:        job.TotalCostKsh,
			SystemEfficiency:    job.SystemEfficiency,
			BatteryType:         job.BatteryType,
		}
		if job.RoiYears > 0 {
			res.RoiYears = sizing.Years(job.RoiYears)
		} else {
			res.RoiYears = sizing.Years(math.Inf(1))
		}
		switch job.BatteryType {
		case sizing.BatteryLeadAcid:
			res.LeadAcidBank.Required = job.BatteriesRequired
		case sizing.BatteryLithiumIon:
			res.LithiumIonBank.Required = job.BatteriesRequired
		}
		st.Sizing = &res
	}

	return st, nil
}
