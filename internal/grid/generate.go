package grid

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

var evModels = []string{
	"Nissan Leaf", "BYD Atto 3", "MG ZS EV", "MG EP",
	"Tesla Model 3", "Hyundai Kona Electric", "Neta V",
}

var monthNames = []string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

type applianceSpec struct {
	name     string
	min, max float64
	priority int
}

var applianceSpecs = []applianceSpec{
	{"Air Conditioner", 0.8, 1.5, PriorityImportant},
	{"Refrigerator", 0.08, 0.15, PriorityCritical},
	{"Washing Machine", 0.3, 0.5, PriorityOptional},
	{"TV", 0.05, 0.15, PriorityOptional},
	{"Electric Stove", 1.0, 2.0, PriorityImportant},
	{"Water Heater", 2.5, 3.5, PriorityImportant},
	{"Lights/Others", 0.1, 0.3, PriorityCritical},
}

// PlantSpec sizes a freshly generated central plant.
type PlantSpec struct {
	TotalCapacityKW    float64
	BatteryCapacityKWh float64
}

// Generator produces a synthetic community. It is only used on cold start.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

func NewGenerator(rng *rand.Rand, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{rng: rng, now: now}
}

// Generate returns n houses, an EV fleet and a plant.
func (g *Generator) Generate(n int, plant PlantSpec) State {
	houses := g.Houses(n)
	return State{
		Houses:      houses,
		EVs:         g.EVs(len(houses)),
		Plant:       g.Plant(plant),
		LastUpdated: g.now(),
	}
}

// Houses generates n households named "House No. 101" onwards.
func (g *Generator) Houses(n int) []Household {
	houses := make([]Household, 0, n)
	for i := 0; i < n; i++ {
		monthly := g.between(100, 750)
		daily := round2(monthly / 30)

		h := Household{
			ID:                    i + 1,
			Name:                  HouseName(i + 1),
			Residents:             g.intBetween(2, 6),
			CurrentConsumptionKW:  round2(daily / 24 * g.between(0.8, 1.6)),
			DailyConsumptionKWh:   daily,
			MonthlyConsumptionKWh: monthly,
			Appliances:            g.appliances(),
			History:               g.history(),
		}

		if g.rng.Float64() > 0.5 {
			h.SolarPanels = g.intBetween(5, 7)
			solarKW := float64(h.SolarPanels) * PanelKW
			h.BatteryCapacityKWh = g.between(solarKW*2, solarKW*3)
			h.BatteryLevel = g.between(40, 100)
		}

		houses = append(houses, h)
	}
	g.flagScenarios(houses)
	return houses
}

// HouseName is the display name of house id.
func HouseName(id int) string {
	return fmt.Sprintf("House No. %d", 100+id)
}

// flagScenarios marks one solar house with a panel problem and one house
// with a blackout so the dashboard has something to show.
func (g *Generator) flagScenarios(houses []Household) {
	if len(houses) == 0 {
		return
	}
	var solar []int
	for i, h := range houses {
		if h.HasSolar() {
			solar = append(solar, i)
		}
	}
	if len(solar) > 0 {
		houses[solar[g.rng.Intn(len(solar))]].SolarProblem = true
	}
	houses[g.rng.Intn(len(houses))].Blackout = true
}

func (g *Generator) appliances() []Appliance {
	out := make([]Appliance, len(applianceSpecs))
	for i, spec := range applianceSpecs {
		out[i] = Appliance{
			ID:       i + 1,
			Name:     spec.name,
			PowerKW:  g.between(spec.min, spec.max),
			On:       g.rng.Float64() > 0.3,
			Priority: spec.priority,
		}
	}
	return out
}

// TimeOfDayMultiplier scales hourly consumption: mornings and evenings are
// the busy windows.
func TimeOfDayMultiplier(hour int) float64 {
	switch {
	case hour >= 6 && hour <= 9:
		return 0.8
	case hour >= 18 && hour <= 22:
		return 1.0
	case hour >= 10 && hour <= 17:
		return 0.5
	default:
		return 0.2
	}
}

func (g *Generator) history() History {
	now := g.now()
	var h History

	for i := 23; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * time.Hour)
		h.Hourly = append(h.Hourly, HourlyPoint{
			Timestamp:   ts,
			Consumption: round2(g.between(0.2, 2.5) * TimeOfDayMultiplier(ts.Hour())),
		})
	}

	for i := 29; i >= 0; i-- {
		h.Daily = append(h.Daily, DailyPoint{
			Timestamp:   now.AddDate(0, 0, -i),
			Consumption: g.between(2.5, 7),
		})
	}

	for i := 11; i >= 0; i-- {
		month := now.AddDate(0, -i, 0).Month()
		h.Monthly = append(h.Monthly, MonthlyPoint{
			Month:       monthNames[month-1],
			Consumption: g.between(80, 200),
		})
	}
	return h
}

// EVs generates a fleet of 3-6 vehicles parked at random houses.
func (g *Generator) EVs(houseCount int) []EV {
	if houseCount <= 0 {
		return nil
	}
	count := g.intBetween(3, 6)
	fleet := make([]EV, 0, count)
	for i := 0; i < count; i++ {
		houseID := g.intBetween(1, houseCount)
		ev := EV{
			ID:                 i + 1,
			Name:               fmt.Sprintf("EV-%03d", i+1),
			Model:              evModels[g.rng.Intn(len(evModels))],
			HouseID:            houseID,
			Owner:              HouseName(houseID),
			BatteryCapacityKWh: g.between(40, 75),
			ChargePercent:      g.between(20, 95),
			Charging:           g.rng.Float64() > 0.5,
		}
		if ev.Charging {
			ev.ChargingPowerKW = g.between(3, 7)
		}
		ev.EstimatedHoursToFull = ev.hoursToFull()
		fleet = append(fleet, ev)
	}
	return fleet
}

// Plant generates the central plant with its battery between 60 and 95%.
func (g *Generator) Plant(spec PlantSpec) *Plant {
	return &Plant{
		TotalCapacityKW:      spec.TotalCapacityKW,
		BatteryCapacityKWh:   spec.BatteryCapacityKWh,
		BatteryLevel:         g.between(60, 95),
		DailyProductionKWh:   g.between(400, 600),
		MonthlyProductionKWh: g.between(12000, 18000),
	}
}

func (ev EV) hoursToFull() float64 {
	if !ev.Charging || ev.ChargingPowerKW <= 0 {
		return 0
	}
	return round1(ev.BatteryCapacityKWh * (100 - ev.ChargePercent) / 100 / ev.ChargingPowerKW)
}

func (g *Generator) between(min, max float64) float64 {
	return round2(min + g.rng.Float64()*(max-min))
}

func (g *Generator) intBetween(min, max int) int {
	return min + g.rng.Intn(max-min+1)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
