package grid

import "math"

// Panel model used everywhere a house's solar yield is estimated.
const (
	PanelKW          = 0.4 // 400 W panel
	PeakSunHours     = 4.5
	DaysPerMonth     = 30
	SystemEfficiency = 0.8

	// GridRate is the retail price of grid electricity in THB/kWh.
	GridRate = 4.0
	// InstallCostPerKW is the rough cost of a rooftop system in THB/kW.
	InstallCostPerKW = 50000
)

// MonthlySolarProduction is the expected kWh per month of panels panels.
func MonthlySolarProduction(panels int) float64 {
	return float64(panels) * PanelKW * PeakSunHours * DaysPerMonth * SystemEfficiency
}

// MonthlySurplus is production above consumption, never negative.
func MonthlySurplus(h Household) float64 {
	return math.Max(0, MonthlySolarProduction(h.SolarPanels)-h.MonthlyConsumptionKWh)
}

// SolarRequirement sizes a system covering dailyKWh.
type SolarRequirement struct {
	CapacityKW       float64 `json:"capacityKw"`
	Panels           int     `json:"numberOfPanels"`
	EstimatedCostTHB float64 `json:"estimatedCost"`
}

func RequirementFor(dailyKWh float64) SolarRequirement {
	capacity := dailyKWh / (PeakSunHours * SystemEfficiency)
	return SolarRequirement{
		CapacityKW:       round2(capacity),
		Panels:           int(math.Ceil(capacity / PanelKW)),
		EstimatedCostTHB: math.Round(capacity * InstallCostPerKW),
	}
}

// Savings compares a household's grid bill with and without solar. For a
// house without panels it uses the recommended system size.
type Savings struct {
	CurrentCostTHB     float64 `json:"currentCost"`
	CostWithSolarTHB   float64 `json:"cost"`
	SavingsTHB         float64 `json:"savings"`
	SavingsPercent     float64 `json:"savingsPercent"`
	SolarProductionKWh float64 `json:"solarProduction"`
	HasSolar           bool    `json:"hasSolar"`
	RecommendedPanels  int     `json:"recommendedPanels,omitempty"`
}

func SavingsFor(h Household) Savings {
	panels := h.SolarPanels
	s := Savings{HasSolar: h.HasSolar()}
	if !s.HasSolar {
		panels = RequirementFor(h.DailyConsumptionKWh).Panels
		s.RecommendedPanels = panels
	}

	s.SolarProductionKWh = MonthlySolarProduction(panels)
	s.CurrentCostTHB = h.MonthlyConsumptionKWh * GridRate
	remaining := math.Max(0, h.MonthlyConsumptionKWh-s.SolarProductionKWh)
	s.CostWithSolarTHB = remaining * GridRate
	s.SavingsTHB = s.CurrentCostTHB - s.CostWithSolarTHB
	if s.CurrentCostTHB > 0 {
		s.SavingsPercent = round1(s.SavingsTHB / s.CurrentCostTHB * 100)
	}
	return s
}

// ConsumptionStatus buckets an instantaneous load in kW.
func ConsumptionStatus(kw float64) string {
	switch {
	case kw < 4:
		return "low"
	case kw < 7:
		return "medium"
	default:
		return "high"
	}
}
