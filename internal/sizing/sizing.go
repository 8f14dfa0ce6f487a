package sizing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// System and battery kinds accepted by the engine.
const (
	SystemPure   = "pure"
	SystemHybrid = "hybrid"

	BatteryLeadAcid   = "lead_acid"
	BatteryLithiumIon = "lithium_ion"
)

// Electrical constants for the supported component catalog. The numeric
// policy (bus voltages, DoD, efficiency chain, unit sizes, rates) is part of
// the engine's observable contract and must not drift.
const (
	busVoltageLeadAcid   = 24.0
	busVoltageLithiumIon = 48.0

	inverterEfficiency  = 0.90
	coulombicEfficiency = 0.95
	systemLossesFactor  = 1.73
	autonomyDays        = 1.0

	leadAcidDoD   = 0.70
	lithiumIonDoD = 1.00

	leadAcidCellAh        = 200.0
	leadAcidCellVoltage   = 12.0
	lithiumIonCellAh      = 150.0
	lithiumIonCellVoltage = 51.2

	panelUnitW    = 545.0
	inverterUnitW = 5000.0

	panelCostPerKw     = 25000.0
	batteryCostPerKwh  = 5000.0
	inverterCostPerKw  = 12000.0
	installationCost   = 35000.0
	gridRatePerKwh     = 20.0
	reportedEfficiency = 0.85
)

// defaultRatings holds power ratings (watts) for common appliances, used
// when an appliance entry carries no explicit rating.
var defaultRatings = map[string]float64{
	"lights":         7,
	"tv":             100,
	"deep_freezer":   350,
	"laptop":         60,
	"desktop":        150,
	"phone_charging": 30,
	"dispenser":      500,
	"fridge":         300,
}

// DefaultRatings returns a copy of the built-in appliance wattage table.
func DefaultRatings() map[string]float64 {
	out := make(map[string]float64, len(defaultRatings))
	for k, v := range defaultRatings {
		out[k] = v
	}
	return out
}

// Appliance is one load entry on a job. PowerW <= 0 means "look the rating
// up by name"; an unknown name with no rating is a validation error.
type Appliance struct {
	Name       string  `json:"name"`
	PowerW     float64 `json:"power_w,omitempty"`
	Quantity   int     `json:"quantity"`
	RuntimeHrs float64 `json:"runtime_hrs"`
}

// Position is a geographic coordinate pair.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BankLayout describes a battery bank as series strings of unit cells.
type BankLayout struct {
	Series   int `json:"series"`
	Parallel int `json:"parallel"`
	Required int `json:"required"`
}

// Result carries every figure the engine produces. Amp-hour demand is
// reported for both chemistries even though only one is selected; downstream
// consumers may read either regardless of selection.
type Result struct {
	LoadDemandKwh           float64 `json:"load_demand_kwh"`
	PowerDemandW            float64 `json:"power_demand_w"`
	AdjustedEnergyDemandKwh float64 `json:"adjusted_energy_demand_kwh"`
	PeakSunHours            float64 `json:"peak_sun_hours"`

	LeadAcidAhDemand   float64    `json:"lead_acid_ah_demand"`
	LithiumIonAhDemand float64    `json:"lithium_ion_ah_demand"`
	LeadAcidBank       BankLayout `json:"lead_acid_bank"`
	LithiumIonBank     BankLayout `json:"lithium_ion_bank"`

	PanelCapacityKw    float64 `json:"panel_capacity_kw"`
	BatteryCapacityKwh float64 `json:"battery_capacity_kwh"`
	InverterCapacityKw float64 `json:"inverter_capacity_kw"`
	PanelsRequired     int     `json:"panels_required"`
	InvertersRequired  int     `json:"inverters_required"`

	DailyOutputKwh float64 `json:"daily_output_kwh"`
	ExcessKwh      float64 `json:"excess_kwh"`

	PanelCostKsh        float64 `json:"panel_cost_ksh"`
	BatteryCostKsh      float64 `json:"battery_cost_ksh"`
	InverterCostKsh     float64 `json:"inverter_cost_ksh"`
	InstallationCostKsh float64 `json:"installation_cost_ksh"`
	TotalCostKsh        float64 `json:"total_cost_ksh"`

	// RoiYears is +Inf when the system produces no excess energy.
	RoiYears         Years   `json:"roi_years"`
	SystemEfficiency float64 `json:"system_efficiency"`
	BatteryType      string  `json:"battery_type"`
}

// Years is a duration in years. Zero annual savings yields an infinite ROI,
// which encoding/json cannot represent as a number, so +Inf round-trips as
// the string "inf".
type Years float64

// IsInf reports whether the value is infinite.
func (y Years) IsInf() bool { return math.IsInf(float64(y), 0) }

func (y Years) MarshalJSON() ([]byte, error) {
	if y.IsInf() {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(y))
}

func (y *Years) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte(`"inf"`)) {
		*y = Years(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*y = Years(f)
	return nil
}

// WeatherSource supplies peak sun hours for a location. Implementations own
// their caching and fallback policy; the engine surfaces their errors as-is.
type WeatherSource interface {
	PeakSunHours(ctx context.Context, lat, lon float64) (float64, error)
}

// Engine converts an appliance load, a location, and component constants
// into panel/battery/inverter counts and cost/ROI figures.
type Engine struct {
	weather WeatherSource
	ratings map[string]float64
}

// NewEngine creates an Engine using the given weather source. Entries in
// extraRatings extend or override the built-in appliance wattage table.
func NewEngine(weather WeatherSource, extraRatings map[string]float64) *Engine {
	ratings := DefaultRatings()
	for name, w := range extraRatings {
		ratings[strings.ToLower(name)] = w
	}
	return &Engine{weather: weather, ratings: ratings}
}

// Calculate sizes a system for the given load and location. Validation
// violations and weather fetch failures are returned as errors, never
// silently defaulted.
func (e *Engine) Calculate(ctx context.Context, systemType string, appliances []Appliance, pos Position, batteryType string) (Result, error) {
	if systemType != SystemPure && systemType != SystemHybrid {
		return Result{}, fmt.Errorf("invalid system_type %q: must be %q or %q", systemType, SystemPure, SystemHybrid)
	}
	if batteryType != BatteryLeadAcid && batteryType != BatteryLithiumIon {
		return Result{}, fmt.Errorf("invalid battery_type %q: must be %q or %q", batteryType, BatteryLeadAcid, BatteryLithiumIon)
	}
	if len(appliances) == 0 {
		return Result{}, fmt.Errorf("appliances must be a non-empty list")
	}

	var totalPowerW, totalEnergyWh float64
	for _, a := range appliances {
		if a.Name == "" || a.Quantity <= 0 || a.RuntimeHrs <= 0 {
			return Result{}, fmt.Errorf("appliance %q must have a name, quantity > 0 and runtime_hrs > 0", a.Name)
		}
		powerW := a.PowerW
		if powerW <= 0 {
			rated, ok := e.ratings[strings.ToLower(a.Name)]
			if !ok {
				return Result{}, fmt.Errorf("no power rating for appliance %q and power_w not provided", a.Name)
			}
			powerW = rated
		}
		totalPowerW += powerW * float64(a.Quantity)
		totalEnergyWh += powerW * float64(a.Quantity) * a.RuntimeHrs
	}

	loadDemandKwh := totalEnergyWh / 1000

	psh, err := e.weather.PeakSunHours(ctx, pos.Lat, pos.Lon)
	if err != nil {
		return Result{}, fmt.Errorf("fetching peak sun hours: %w", err)
	}
	if psh <= 0 {
		return Result{}, fmt.Errorf("peak sun hours must be positive, got %v", psh)
	}

	adjustedEnergyKwh := loadDemandKwh / inverterEfficiency

	// Battery banks are computed for both chemistries regardless of which
	// one is selected; the amp-hour demands are reported either way.
	laAh := (adjustedEnergyKwh * 1000) / busVoltageLeadAcid / leadAcidDoD * autonomyDays
	laBank, laCapacityKwh := layoutBank(laAh, busVoltageLeadAcid, leadAcidCellVoltage, leadAcidCellAh)

	liAh := (adjustedEnergyKwh * 1000) / busVoltageLithiumIon / lithiumIonDoD * autonomyDays
	liBank, liCapacityKwh := layoutBank(liAh, busVoltageLithiumIon, lithiumIonCellVoltage, lithiumIonCellAh)

	res := Result{
		LoadDemandKwh:           loadDemandKwh,
		PowerDemandW:            totalPowerW,
		AdjustedEnergyDemandKwh: adjustedEnergyKwh,
		PeakSunHours:            psh,
		LeadAcidAhDemand:        laAh,
		LithiumIonAhDemand:      liAh,
		BatteryType:             batteryType,
	}

	// Pure grid-tie carries no storage: all selected quantities collapse to
	// zero, and the non-selected chemistry's layout is zeroed either way.
	if systemType == SystemHybrid {
		switch batteryType {
		case BatteryLeadAcid:
			res.LeadAcidBank = laBank
			res.BatteryCapacityKwh = laCapacityKwh
		case BatteryLithiumIon:
			res.LithiumIonBank = liBank
			res.BatteryCapacityKwh = liCapacityKwh
		}
	}

	adjustedPowerW := totalPowerW / inverterEfficiency
	res.InvertersRequired = int(math.Ceil(adjustedPowerW / inverterUnitW))
	res.InverterCapacityKw = float64(res.InvertersRequired) * inverterUnitW / 1000

	panelEnergyWh := (loadDemandKwh * 1000) / coulombicEfficiency
	requiredPanelW := panelEnergyWh / psh * systemLossesFactor
	res.PanelsRequired = int(math.Ceil(requiredPanelW / panelUnitW))
	res.PanelCapacityKw = float64(res.PanelsRequired) * panelUnitW / 1000

	res.DailyOutputKwh = res.PanelCapacityKw * psh
	if res.DailyOutputKwh > loadDemandKwh {
		res.ExcessKwh = res.DailyOutputKwh - loadDemandKwh
	}

	res.PanelCostKsh = res.PanelCapacityKw * panelCostPerKw
	res.BatteryCostKsh = res.BatteryCapacityKwh * batteryCostPerKwh
	res.InverterCostKsh = res.InverterCapacityKw * inverterCostPerKw
	res.InstallationCostKsh = installationCost
	res.TotalCostKsh = res.PanelCostKsh + res.BatteryCostKsh + res.InverterCostKsh + res.InstallationCostKsh

	annualSavings := res.ExcessKwh * 365 * gridRatePerKwh
	if annualSavings > 0 {
		res.RoiYears = Years(res.TotalCostKsh / annualSavings)
	} else {
		res.RoiYears = Years(math.Inf(1))
	}

	res.SystemEfficiency = reportedEfficiency
	return res, nil
}

// layoutBank derives the series/parallel layout for one chemistry and the
// resulting installed capacity in kWh.
func layoutBank(demandAh, busVoltage, cellVoltage, cellAh float64) (BankLayout, float64) {
	series := int(math.Ceil(busVoltage / cellVoltage))
	perStringAh := demandAh / float64(series)
	parallel := int(math.Ceil(perStringAh / cellAh))
	required := series * parallel
	capacityKwh := float64(required) * cellAh * cellVoltage / 1000
	return BankLayout{Series: series, Parallel: parallel, Required: required}, capacityKwh
}
