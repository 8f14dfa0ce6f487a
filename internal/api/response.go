package api

import (
	"encoding/json"
	"time"

	"github.com/solarsync/solarsync/internal/storage"
)

type jobResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id,omitempty"`
	Description string `json:"description"`
	SystemType  string `json:"system_type"`
	BatteryType string `json:"battery_type,omitempty"`
	Status      string `json:"status"`
	Priority    string `json:"priority,omitempty"`

	Position   positionResponse `json:"position"`
	Appliances json.RawMessage  `json:"appliances,omitempty"`
	Contact    json.RawMessage  `json:"contact,omitempty"`
	Address    json.RawMessage  `json:"address,omitempty"`

	Sizing *sizingResponse `json:"sizing,omitempty"`

	TechnicianID    string `json:"technician_id,omitempty"`
	TechnicianName  string `json:"technician_name,omitempty"`
	TechnicianLogin string `json:"technician_login,omitempty"`

	ScheduledStart string     `json:"scheduled_start,omitempty"`
	ScheduledEnd   string     `json:"scheduled_end,omitempty"`
	ActualEnd      *time.Time `json:"actual_end,omitempty"`
	Feedback       string     `json:"feedback,omitempty"`

	LastWeatherCheck *time.Time `json:"last_weather_check,omitempty"`
	LastPeakSunHours float64    `json:"last_peak_sun_hours,omitempty"`

	DateCreated  time.Time `json:"date_created"`
	DateModified time.Time `json:"date_modified"`
}

type positionResponse struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type sizingResponse struct {
	LoadDemandKwh      float64 `json:"load_demand_kwh"`
	PeakSunHours       float64 `json:"peak_sun_hours"`
	PanelCapacityKw    float64 `json:"panel_capacity_kw"`
	BatteryCapacityKwh float64 `json:"battery_capacity_kwh"`
	InverterCapacityKw float64 `json:"inverter_capacity_kw"`
	PanelsRequired     int     `json:"panels_required"`
	BatteriesRequired  int     `json:"batteries_required"`
	InvertersRequired  int     `json:"inverters_required"`
	DailyOutputKwh     float64 `json:"daily_output_kwh"`
	ExcessKwh          float64 `json:"excess_kwh"`
	PanelCostKsh       float64 `json:"panel_cost_ksh"`
	BatteryCostKsh     float64 `json:"battery_cost_ksh"`
	InverterCostKsh    float64 `json:"inverter_cost_ksh"`
	InstallCostKsh     float64 `json:"install_cost_ksh"`
	TotalCostKsh       float64 `json:"total_cost_ksh"`
	RoiYears           any     `json:"roi_years"`
	SystemEfficiency   float64 `json:"system_efficiency"`
}

func toJobResponse(j storage.Job) jobResponse {
	out := jobResponse{
		ID:               j.ID,
		UserID:           j.UserID,
		Description:      j.Description,
		SystemType:       j.SystemType,
		BatteryType:      j.BatteryType,
		Status:           j.Status,
		Priority:         j.Priority,
		Position:         positionResponse{Lat: j.PositionLat, Lon: j.PositionLon},
		TechnicianID:     j.TechnicianID,
		TechnicianName:   j.TechnicianName,
		TechnicianLogin:  j.TechnicianLogin,
		ScheduledStart:   j.ScheduledStart,
		ScheduledEnd:     j.ScheduledEnd,
		ActualEnd:        j.ActualEnd,
		Feedback:         j.Feedback,
		LastWeatherCheck: j.LastWeatherCheck,
		LastPeakSunHours: j.LastPeakSunHours,
		DateCreated:      j.DateCreated,
		DateModified:     j.DateModified,
	}

	// The stored columns are already JSON; pass them through untouched.
	if j.AppliancesJSON != "" && j.AppliancesJSON != "[]" {
		out.Appliances = json.RawMessage(j.AppliancesJSON)
	}
	if j.ContactJSON != "" && j.ContactJSON != "{}" {
		out.Contact = json.RawMessage(j.ContactJSON)
	}
	if j.AddressJSON != "" && j.AddressJSON != "{}" {
		out.Address = json.RawMessage(j.AddressJSON)
	}

	if j.PanelsRequired > 0 || j.TotalCostKsh > 0 {
		sz := sizingResponse{
			LoadDemandKwh:      j.LoadDemandKwh,
			PeakSunHours:       j.PeakSunHours,
			PanelCapacityKw:    j.PanelCapacityKw,
			BatteryCapacityKwh: j.BatteryCapacityKwh,
			InverterCapacityKw: j.InverterCapacityKw,
			PanelsRequired:     j.PanelsRequired,
			BatteriesRequired:  j.BatteriesRequired,
			InvertersRequired:  j.InvertersRequired,
			DailyOutputKwh:     j.DailyOutputKwh,
			ExcessKwh:          j.ExcessKwh,
			PanelCostKsh:       j.PanelCostKsh,
			BatteryCostKsh:     j.BatteryCostKsh,
			InverterCostKsh:    j.InverterCostKsh,
			InstallCostKsh:     j.InstallCostKsh,
			TotalCostKsh:       j.TotalCostKsh,
			SystemEfficiency:   j.SystemEfficiency,
		}
		// A stored zero means the system never pays for itself.
		if j.RoiYears > 0 {
			sz.RoiYears = j.RoiYears
		} else {
			sz.RoiYears = "inf"
		}
		out.Sizing = &sz
	}

	return out
}
