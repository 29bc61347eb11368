package solar

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/awaistahir/microgrid/internal/grid"
)

// Battery level bounds in percent.
const (
	MinBatteryLevel = 5.0
	MaxBatteryLevel = 100.0
)

// Config holds the tunables of the plant model.
type Config struct {
	MaxProductionKW  float64
	PeakHour         int
	BatteryStepScale float64
	ReserveThreshold float64 // percent of battery kept for the community
}

// DefaultConfig is a 45 kW peak plant that sells above 60% charge.
func DefaultConfig() Config {
	return Config{
		MaxProductionKW:  45,
		PeakHour:         12,
		BatteryStepScale: 0.005,
		ReserveThreshold: 60,
	}
}

// Simulator advances the central plant. It is safe for concurrent use.
type Simulator struct {
	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	now      func() time.Time
	plant    grid.Plant
	lastStep time.Time
}

// New creates a simulator starting from plant.
func New(cfg Config, plant grid.Plant, rng *rand.Rand, now func() time.Time) *Simulator {
	if now == nil {
		now = time.Now
	}
	return &Simulator{cfg: cfg, rng: rng, now: now, plant: plant}
}

// Production returns the plant output in kW at hour. Output follows a
// triangle centred on the peak hour with ±10% noise, and is zero outside
// 06:00-18:00.
func (s *Simulator) Production(hour int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.production(hour)
}

func (s *Simulator) production(hour int) float64 {
	if hour < 6 || hour > 18 {
		return 0
	}
	shape := math.Max(0, 1-math.Abs(float64(hour-s.cfg.PeakHour))/6)
	noise := 0.9 + s.rng.Float64()*0.2
	return s.cfg.MaxProductionKW * shape * noise
}

// batteryDelta is the charge change in percentage points for one step.
func (s *Simulator) batteryDelta(hour int) float64 {
	var delta float64
	switch {
	case hour < 6:
		delta = -0.5
	case hour < 12:
		delta = 1.0
	case hour < 18:
		delta = 1.5
	default:
		delta = -1.0
	}
	return delta * s.cfg.BatteryStepScale
}

// Step advances the plant by one tick of length interval and returns the
// new state.
func (s *Simulator) Step(interval time.Duration) grid.Plant {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.lastStep.IsZero() && now.YearDay() != s.lastStep.YearDay() {
		s.plant.DailyProductionKWh = 0
		if now.Month() != s.lastStep.Month() {
			s.plant.MonthlyProductionKWh = 0
		}
	}
	s.lastStep = now

	hour := now.Hour()
	prod := s.production(hour)
	s.plant.CurrentProductionKW = round2(prod)

	energy := prod * interval.Hours()
	s.plant.DailyProductionKWh += energy
	s.plant.MonthlyProductionKWh += energy

	level := s.plant.BatteryLevel + s.batteryDelta(hour)
	s.plant.BatteryLevel = clamp(level, MinBatteryLevel, MaxBatteryLevel)

	return s.plant
}

// Surplus is the battery energy in kWh above the reserve threshold.
func (s *Simulator) Surplus() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SurplusOf(s.plant, s.cfg.ReserveThreshold)
}

// SurplusOf is the kWh of p's battery above threshold percent.
func SurplusOf(p grid.Plant, threshold float64) float64 {
	return math.Max(0, (p.BatteryLevel-threshold)/100*p.BatteryCapacityKWh)
}

// Discharge removes kWh sold to the pool from the battery.
func (s *Simulator) Discharge(kWh float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plant.BatteryCapacityKWh > 0 {
		s.plant.BatteryLevel = math.Max(0, s.plant.BatteryLevel-kWh/s.plant.BatteryCapacityKWh*100)
	}
	s.plant.TotalSoldKWh += kWh
}

// State returns a copy of the current plant.
func (s *Simulator) State() grid.Plant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plant
}

// Restore replaces the plant state, e.g. after the community is regenerated.
func (s *Simulator) Restore(p grid.Plant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plant = p
	s.lastStep = time.Time{}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
