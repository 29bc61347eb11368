package grid

import (
	"math"
	"sort"
)

// ShedStep is one appliance switched off during an outage.
type ShedStep struct {
	Step           int     `json:"step"`
	Appliance      string  `json:"appliance"`
	PowerKW        float64 `json:"power"`
	TotalSavedKW   float64 `json:"totalSaved"`
	ExtendedHours  float64 `json:"extendedTime"`
	UnlimitedHours bool    `json:"unlimited"` // remaining load is zero or negative
}

// LoadSheddingPlan orders the running appliances of h from least to most
// important (optional first, critical last) and reports how long the house
// battery lasts after each switch-off.
func LoadSheddingPlan(h Household) []ShedStep {
	running := make([]Appliance, 0, len(h.Appliances))
	for _, a := range h.Appliances {
		if a.On {
			running = append(running, a)
		}
	}
	sort.SliceStable(running, func(i, j int) bool {
		return running[i].Priority > running[j].Priority
	})

	steps := make([]ShedStep, 0, len(running))
	var saved float64
	for i, a := range running {
		saved += a.PowerKW
		step := ShedStep{
			Step:         i + 1,
			Appliance:    a.Name,
			PowerKW:      a.PowerKW,
			TotalSavedKW: round2(saved),
		}
		remaining := h.CurrentConsumptionKW - saved
		if remaining <= 0 {
			step.UnlimitedHours = true
		} else {
			step.ExtendedHours = round1(h.BatteryCapacityKWh / remaining)
		}
		steps = append(steps, step)
	}
	return steps
}

// Backup estimates how long a battery carries a house through a blackout.
type Backup struct {
	SolarContributionKW float64 `json:"solarContribution"`
	NetConsumptionKW    float64 `json:"netConsumption"`
	SurplusKW           float64 `json:"surplus,omitempty"`
	BackupHours         float64 `json:"backupHours"`
	SolarCoversAll      bool    `json:"solarCoversAll"`
	NoBattery           bool    `json:"noBattery"`
}

func BackupDuration(solarKW, batteryKWh, consumptionKW float64) Backup {
	b := Backup{SolarContributionKW: solarKW}
	net := consumptionKW - solarKW
	if net <= 0 {
		b.SolarCoversAll = true
		b.SurplusKW = round2(math.Abs(net))
		return b
	}
	b.NetConsumptionKW = round2(net)
	if batteryKWh <= 0 {
		b.NoBattery = true
		return b
	}
	b.BackupHours = round2(batteryKWh / net)
	return b
}
