package grid

import (
	"errors"
	"fmt"
)

// Ranges a persisted community must respect. Data written by older versions
// of the generator falls outside them and is regenerated.
const (
	MinMonthlyConsumption = 50
	MaxMonthlyConsumption = 800
	MinPanels             = 5
	MaxPanels             = 7
)

// ErrStale marks persisted state that must be discarded and regenerated.
var ErrStale = errors.New("stale community state")

// Validate checks persisted state against the current schema.
func (s *State) Validate() error {
	if len(s.Houses) == 0 {
		return fmt.Errorf("%w: no houses", ErrStale)
	}
	if s.Plant == nil {
		return fmt.Errorf("%w: missing plant", ErrStale)
	}
	for _, h := range s.Houses {
		if h.MonthlyConsumptionKWh < MinMonthlyConsumption || h.MonthlyConsumptionKWh > MaxMonthlyConsumption {
			return fmt.Errorf("%w: house %d consumption %.1f kWh outside %d-%d",
				ErrStale, h.ID, h.MonthlyConsumptionKWh, MinMonthlyConsumption, MaxMonthlyConsumption)
		}
		if h.SolarPanels != 0 && (h.SolarPanels < MinPanels || h.SolarPanels > MaxPanels) {
			return fmt.Errorf("%w: house %d has %d panels", ErrStale, h.ID, h.SolarPanels)
		}
	}
	for _, ev := range s.EVs {
		if ev.Model == "" || ev.HouseID == 0 {
			return fmt.Errorf("%w: ev %d missing model or house", ErrStale, ev.ID)
		}
	}
	if total := s.TotalAllocation(); total > MaxAllocation {
		return fmt.Errorf("%w: allocation total %.1f%%", ErrStale, total)
	}
	return nil
}
