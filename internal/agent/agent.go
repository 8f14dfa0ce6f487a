// Package agent implements the pipeline step agents. Every agent is a pure
// function from job state to job state: it validates its inputs, does its one
// piece of work, mirrors the result onto the durable job record, and appends
// exactly one event log entry. Agents never return errors; failures are
// recorded in the log as a failed outcome and routing decides what happens
// next.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
	"github.com/solarsync/solarsync/internal/triage"
)

// Func is one pipeline step. The returned state carries at least one new
// event log entry.
type Func func(ctx context.Context, st state.JobState) state.JobState

// Store is the slice of the storage layer the agents write through.
type Store interface {
	UpsertJob(job storage.Job) (storage.Job, error)
	GetJob(id string) (storage.Job, error)
	GetTechnician(id string) (storage.Technician, error)
	AppendPrediction(p storage.Prediction) (storage.Prediction, error)
}

// Broadcaster announces job record changes to interested clients. Delivery
// is best-effort and must not block.
type Broadcaster interface {
	NotifyJobChanged(jobID string)
}

// NopBroadcaster discards change notifications.
type NopBroadcaster struct{}

func (NopBroadcaster) NotifyJobChanged(string) {}

// jobRecord mirrors the pipeline state onto a durable job record. The
// storage layer owns status monotonicity and creation timestamps, so a full
// mirror is always safe to upsert.
func jobRecord(st state.JobState) (storage.Job, error) {
	appliances, err := json.Marshal(st.Appliances)
	if err != nil {
		return storage.Job{}, fmt.Errorf("marshaling appliances: %w", err)
	}
	contact, err := json.Marshal(st.Contact)
	if err != nil {
		return storage.Job{}, fmt.Errorf("marshaling contact: %w", err)
	}
	address, err := json.Marshal(st.Address)
	if err != nil {
		return storage.Job{}, fmt.Errorf("marshaling address: %w", err)
	}

	job := storage.Job{
		ID:              st.JobID,
		UserID:          st.UserID,
		Description:     st.Description,
		SystemType:      st.SystemType,
		BatteryType:     st.BatteryType,
		Status:          st.Status,
		Priority:        st.Priority,
		AppliancesJSON:  string(appliances),
		ContactJSON:     string(contact),
		AddressJSON:     string(address),
		TechnicianID:    st.TechnicianID,
		TechnicianName:  st.TechnicianName,
		TechnicianLogin: st.TechnicianLogin,
		ScheduledStart:  st.ScheduledStart,
		ScheduledEnd:    st.ScheduledEnd,
		Feedback:        st.Feedback,
	}
	if st.Position != nil {
		job.PositionLat = st.Position.Lat
		job.PositionLon = st.Position.Lon
	}
	if st.DateCreated != nil {
		job.DateCreated = *st.DateCreated
	}
	if st.LastWeatherCheck != nil {
		t := *st.LastWeatherCheck
		job.LastWeatherCheck = &t
	}
	job.LastPeakSunHours = st.LastPeakSunHours
	if st.Sizing != nil {
		applySizing(&job, *st.Sizing)
	}
	return job, nil
}

func applySizing(job *storage.Job, res sizing.Result) {
	job.LoadDemandKwh = res.LoadDemandKwh
	job.PeakSunHours = res.PeakSunHours
	job.PanelCapacityKw = res.PanelCapacityKw
	job.BatteryCapacityKwh = res.BatteryCapacityKwh
	job.InverterCapacityKw = res.InverterCapacityKw
	job.PanelsRequired = res.PanelsRequired
	job.InvertersRequired = res.InvertersRequired
	job.DailyOutputKwh = res.DailyOutputKwh
	job.ExcessKwh = res.ExcessKwh
	job.PanelCostKsh = res.PanelCostKsh
	job.BatteryCostKsh = res.BatteryCostKsh
	job.InverterCostKsh = res.InverterCostKsh
	job.InstallCostKsh = res.InstallationCostKsh
	job.TotalCostKsh = res.TotalCostKsh
	job.SystemEfficiency = res.SystemEfficiency
	if res.RoiYears.IsInf() {
		job.RoiYears = 0
	} else {
		job.RoiYears = float64(res.RoiYears)
	}
	switch res.BatteryType {
	case sizing.BatteryLeadAcid:
		job.BatteriesRequired = res.LeadAcidBank.Required
	case sizing.BatteryLithiumIon:
		job.BatteriesRequired = res.LithiumIonBank.Required
	}
}

// commit mirrors the state to storage and announces the change. On storage
// failure it returns the input state with a failed entry appended.
func commit(st state.JobState, node string, store Store, broadcast Broadcaster) (state.JobState, bool) {
	job, err := jobRecord(st)
	if err != nil {
		return st.Append(node, state.OutcomeFailed, err.Error()), false
	}
	if _, err := store.UpsertJob(job); err != nil {
		return st.Append(node, state.OutcomeFailed, fmt.Sprintf("persisting job: %v", err)), false
	}
	broadcast.NotifyJobChanged(st.JobID)
	return st, true
}

// equipmentCosts extracts the triage cost inputs from a sizing result.
func equipmentCosts(res *sizing.Result) triage.EquipmentCosts {
	if res == nil {
		return triage.EquipmentCosts{}
	}
	return triage.EquipmentCosts{
		PanelKsh:    res.PanelCostKsh,
		BatteryKsh:  res.BatteryCostKsh,
		InverterKsh: res.InverterCostKsh,
	}
}
