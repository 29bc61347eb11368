package grid

import "time"

// Appliance priorities. Lower numbers are more important.
const (
	PriorityCritical  = 1
	PriorityImportant = 2
	PriorityOptional  = 3
)

// Appliance is a load inside one household.
type Appliance struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	PowerKW  float64 `json:"power"`
	On       bool    `json:"isOn"`
	Priority int     `json:"priority"` // 1=critical, 2=important, 3=optional
}

// HourlyPoint is one hour of consumption in kW.
type HourlyPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Consumption float64   `json:"consumption"`
}

// DailyPoint is one day of consumption in kWh.
type DailyPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Consumption float64   `json:"consumption"`
}

// MonthlyPoint is one month of consumption in kWh.
type MonthlyPoint struct {
	Month       string  `json:"month"`
	Consumption float64 `json:"consumption"`
}

// History holds the 24h / 30d / 12mo consumption series of a household.
type History struct {
	Hourly  []HourlyPoint  `json:"hourly"`
	Daily   []DailyPoint   `json:"daily"`
	Monthly []MonthlyPoint `json:"monthly"`
}

// Household is one house of the community.
type Household struct {
	ID                    int         `json:"id"`
	Name                  string      `json:"name"`
	Residents             int         `json:"residents"`
	CurrentConsumptionKW  float64     `json:"currentConsumption"`
	DailyConsumptionKWh   float64     `json:"dailyConsumption"`
	MonthlyConsumptionKWh float64     `json:"monthlyConsumption"`
	SolarPanels           int         `json:"solarPanels"`
	BatteryCapacityKWh    float64     `json:"batteryCapacity"`
	BatteryLevel          float64     `json:"batteryLevel"`
	Appliances            []Appliance `json:"appliances"`
	History               History     `json:"history"`
	SolarAllocation       float64     `json:"solarAllocation"` // percent of the central plant
	SolarProblem          bool        `json:"solarProblem"`
	Blackout              bool        `json:"blackout"`
}

// HasSolar reports whether the house has its own panels.
func (h Household) HasSolar() bool {
	return h.SolarPanels > 0
}

// EV is an electric vehicle charged at one of the houses.
type EV struct {
	ID                   int     `json:"id"`
	Name                 string  `json:"name"`
	Model                string  `json:"model"`
	HouseID              int     `json:"houseId"`
	Owner                string  `json:"owner"`
	BatteryCapacityKWh   float64 `json:"batteryCapacity"`
	ChargePercent        float64 `json:"currentCharge"`
	Charging             bool    `json:"isCharging"`
	ChargingPowerKW      float64 `json:"chargingPower"`
	EstimatedHoursToFull float64 `json:"estimatedTimeToFull"`
}

// Plant is the persisted state of the central solar plant.
type Plant struct {
	TotalCapacityKW      float64 `json:"totalCapacity"`
	CurrentProductionKW  float64 `json:"currentProduction"`
	BatteryCapacityKWh   float64 `json:"batteryCapacity"`
	BatteryLevel         float64 `json:"batteryLevel"`
	DailyProductionKWh   float64 `json:"dailyProduction"`
	MonthlyProductionKWh float64 `json:"monthlyProduction"`
	TotalSoldKWh         float64 `json:"totalSold"`
}

// State is everything the community simulation owns besides the market.
type State struct {
	Houses      []Household `json:"houses"`
	EVs         []EV        `json:"evData"`
	Plant       *Plant      `json:"solarData"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// House returns the household with id, or false.
func (s *State) House(id int) (*Household, bool) {
	for i := range s.Houses {
		if s.Houses[i].ID == id {
			return &s.Houses[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{LastUpdated: s.LastUpdated}
	out.Houses = make([]Household, len(s.Houses))
	for i, h := range s.Houses {
		h.Appliances = append([]Appliance(nil), h.Appliances...)
		h.History = History{
			Hourly:  append([]HourlyPoint(nil), h.History.Hourly...),
			Daily:   append([]DailyPoint(nil), h.History.Daily...),
			Monthly: append([]MonthlyPoint(nil), h.History.Monthly...),
		}
		out.Houses[i] = h
	}
	out.EVs = append([]EV(nil), s.EVs...)
	if s.Plant != nil {
		p := *s.Plant
		out.Plant = &p
	}
	return out
}
