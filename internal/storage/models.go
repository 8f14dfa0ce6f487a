package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job is the durable job record, independent of any single pipeline run.
// Pipeline agents mirror their owned fields onto it as they commit.
type Job struct {
	ID          string
	UserID      string
	Description string
	SystemType  string
	BatteryType string
	Status      string
	Priority    string

	PositionLat    float64
	PositionLon    float64
	AppliancesJSON string // JSON array stored as text
	ContactJSON    string // JSON object stored as text
	AddressJSON    string // JSON object stored as text

	LoadDemandKwh      float64
	PeakSunHours       float64
	PanelCapacityKw    float64
	BatteryCapacityKwh float64
	InverterCapacityKw float64
	PanelsRequired     int
	BatteriesRequired  int
	InvertersRequired  int
	DailyOutputKwh     float64
	ExcessKwh          float64
	PanelCostKsh       float64
	BatteryCostKsh     float64
	InverterCostKsh    float64
	InstallCostKsh     float64
	TotalCostKsh       float64
	RoiYears           float64 // 0 when ROI is infinite (no excess energy)
	SystemEfficiency   float64

	TechnicianID    string
	TechnicianName  string
	TechnicianLogin string

	ScheduledStart string
	ScheduledEnd   string
	ActualEnd      *time.Time
	Feedback       string

	LastWeatherCheck *time.Time
	LastPeakSunHours float64

	DateCreated  time.Time
	DateModified time.Time
}

// Technician is a roster entry matched against required skills during
// triage. Skills is a free-text list, e.g. "hybrid lithium_ion, installation".
type Technician struct {
	ID        string  `json:"id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email"`
	Phone     string  `json:"phone"`
	Skills    string  `json:"skills"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

// FullName joins the technician's names for display.
func (t Technician) FullName() string {
	if t.LastName == "" {
		return t.FirstName
	}
	return t.FirstName + " " + t.LastName
}

// Prediction is one immutable triage outcome for a job. A job may accumulate
// several over its life.
type Prediction struct {
	ID            int64     `json:"id"`
	JobID         string    `json:"job_id"`
	Priority      string    `json:"priority"`
	DurationHours float64   `json:"duration_hours"`
	LaborKsh      float64   `json:"labor_ksh"`
	TransportKsh  float64   `json:"transport_ksh"`
	Diagnosis     string    `json:"diagnosis"`
	CreatedAt     time.Time `json:"created_at"`
}

// CatalogEntry is a persisted appliance wattage override extending the
// built-in rating table.
type CatalogEntry struct {
	Name   string
	PowerW float64
}
