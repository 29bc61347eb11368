package grid

import "math"

// MaxAllocation is the share of the central plant that can be handed out.
const MaxAllocation = 100.0

// TotalAllocation sums the solar allocation of every household.
func (s *State) TotalAllocation() float64 {
	var total float64
	for _, h := range s.Houses {
		total += h.SolarAllocation
	}
	return total
}

// SetAllocation assigns pct of the plant to house id. The request is clamped
// to [0, 100] and then reduced so the community total never exceeds 100.
// It returns the percentage actually stored, or false for an unknown house.
func (s *State) SetAllocation(id int, pct float64) (float64, bool) {
	h, ok := s.House(id)
	if !ok {
		return 0, false
	}
	if math.IsNaN(pct) || pct < 0 {
		pct = 0
	}
	pct = math.Min(pct, MaxAllocation)

	others := s.TotalAllocation() - h.SolarAllocation
	if others+pct > MaxAllocation {
		pct = math.Max(0, MaxAllocation-others)
	}
	h.SolarAllocation = pct
	return pct, true
}

// ResetAllocation sets every household's allocation to zero.
func (s *State) ResetAllocation() {
	for i := range s.Houses {
		s.Houses[i].SolarAllocation = 0
	}
}

// DistributedSolarPower is the plant output in kW routed to house id.
// Unknown houses get 0.
func (s *State) DistributedSolarPower(id int) float64 {
	h, ok := s.House(id)
	if !ok || s.Plant == nil {
		return 0
	}
	return round2(s.Plant.CurrentProductionKW * h.SolarAllocation / 100)
}
