package grid

import (
	"math"
	"math/rand"
)

// Refresh advances the household and fleet random walk by one tick:
// consumption drifts by ±10%, appliances occasionally toggle and charging
// EVs gain half a percentage point.
func (s *State) Refresh(rng *rand.Rand) {
	for i := range s.Houses {
		h := &s.Houses[i]
		h.CurrentConsumptionKW = round2(h.CurrentConsumptionKW * (0.9 + rng.Float64()*0.2))

		for j := range h.Appliances {
			if rng.Float64() > 0.95 {
				h.Appliances[j].On = !h.Appliances[j].On
			}
		}
	}

	for i := range s.EVs {
		ev := &s.EVs[i]
		if ev.Charging && ev.ChargePercent < 100 {
			ev.ChargePercent = math.Min(100, ev.ChargePercent+0.5)
			ev.EstimatedHoursToFull = ev.hoursToFull()
		}
	}
}

// EVsForHouse lists the vehicles registered at house id.
func (s *State) EVsForHouse(id int) []EV {
	var out []EV
	for _, ev := range s.EVs {
		if ev.HouseID == id {
			out = append(out, ev)
		}
	}
	return out
}

// TotalConsumption is the instantaneous community load in kW.
func (s *State) TotalConsumption() float64 {
	var total float64
	for _, h := range s.Houses {
		total += h.CurrentConsumptionKW
	}
	return round2(total)
}
