// Package triage estimates priority, effort, cost, and a technician
// candidate for a job from its description and equipment costs.
package triage

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
)

const (
	baseLaborRatePerHour   = 1000.0
	baseTransportOutage    = 1200.0
	baseTransportRegular   = 800.0
	laborCostFactorCap     = 2.0
	transportCostFactorCap = 1.5
)

// EquipmentCosts is the cost breakdown feeding effort scaling.
type EquipmentCosts struct {
	PanelKsh    float64
	BatteryKsh  float64
	InverterKsh float64
}

func (c EquipmentCosts) total() float64 {
	return c.PanelKsh + c.BatteryKsh + c.InverterKsh
}

// Result is one triage outcome. TechnicianID is empty when no roster entry
// matches the required skill; downstream steps tolerate that.
type Result struct {
	Priority      string
	DurationHours float64
	LaborKsh      float64
	TransportKsh  float64
	TechnicianID  string
	Diagnosis     string
}

// TechnicianSource lists the roster considered for assignment.
type TechnicianSource interface {
	ListTechnicians(ctx context.Context) ([]storage.Technician, error)
}

// Predictor derives triage results. Roster failures degrade to a fixed
// fallback prediction rather than propagating; the fallback is part of the
// contract.
type Predictor struct {
	roster TechnicianSource
	pick   func(n int) int
}

// NewPredictor creates a Predictor drawing candidates from the given roster.
func NewPredictor(roster TechnicianSource) *Predictor {
	return &Predictor{roster: roster, pick: rand.IntN}
}

// Predict estimates job details from the description and sizing costs.
func (p *Predictor) Predict(ctx context.Context, description, systemType, batteryType string, costs EquipmentCosts) Result {
	desc := strings.ToLower(description)
	isOutage := strings.Contains(desc, "offline")
	isMaintenance := strings.Contains(desc, "maintenance")

	priority := state.PriorityLow
	if isOutage {
		priority = state.PriorityHigh
	} else if isMaintenance {
		priority = state.PriorityMedium
	}

	duration := 4.0
	if systemType == sizing.SystemHybrid {
		duration = 6.0
	}
	if isOutage {
		duration += 2.0
	}
	switch batteryType {
	case sizing.BatteryLithiumIon:
		duration *= 0.9
	case sizing.BatteryLeadAcid:
		duration *= 1.1
	}

	total := costs.total()
	laborFactor := min(1.0+total/100000.0, laborCostFactorCap)
	labor := duration * baseLaborRatePerHour * laborFactor

	baseTransport := baseTransportRegular
	if isOutage {
		baseTransport = baseTransportOutage
	}
	transportFactor := min(1.0+total/200000.0, transportCostFactorCap)
	transport := baseTransport * transportFactor

	diagnosis := "System inspection"
	if isOutage {
		diagnosis = "Check inverter wiring"
	} else if isMaintenance {
		diagnosis = "Routine maintenance check"
	}
	switch batteryType {
	case sizing.BatteryLeadAcid:
		diagnosis += "; inspect Lead Acid battery connections"
	case sizing.BatteryLithiumIon:
		diagnosis += "; verify Lithium-Ion battery management system"
	}

	res := Result{
		Priority:      priority,
		DurationHours: duration,
		LaborKsh:      labor,
		TransportKsh:  transport,
		Diagnosis:     diagnosis,
	}

	technicianID, err := p.pickTechnician(ctx, systemType, batteryType)
	if err != nil {
		slog.Warn("triage: roster lookup failed, using fallback prediction", "error", err)
		return fallback()
	}
	res.TechnicianID = technicianID
	return res
}

// pickTechnician filters the roster by a "{system_type} {battery_type}"
// skill string and picks uniformly at random among the matches. No match
// yields an empty ID, not an error.
func (p *Predictor) pickTechnician(ctx context.Context, systemType, batteryType string) (string, error) {
	technicians, err := p.roster.ListTechnicians(ctx)
	if err != nil {
		return "", err
	}

	requiredSkill := systemType
	if batteryType != "" {
		requiredSkill += " " + batteryType
	}
	requiredSkill = strings.ToLower(requiredSkill)

	var matches []storage.Technician
	for _, t := range technicians {
		if strings.Contains(strings.ToLower(t.Skills), requiredSkill) {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		slog.Warn("triage: no technician matches required skill", "skill", requiredSkill)
		return "", nil
	}
	return matches[p.pick(len(matches))].ID, nil
}

func fallback() Result {
	return Result{
		Priority:      state.PriorityMedium,
		DurationHours: 4.0,
		LaborKsh:      4000.0,
		TransportKsh:  800.0,
		Diagnosis:     "System inspection",
	}
}
