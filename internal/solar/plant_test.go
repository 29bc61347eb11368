package solar

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/awaistahir/microgrid/internal/grid"
)

func newTestSimulator(p grid.Plant, at time.Time) *Simulator {
	return New(DefaultConfig(), p, rand.New(rand.NewSource(1)), func() time.Time { return at })
}

func TestProduction(t *testing.T) {
	s := newTestSimulator(grid.Plant{}, time.Time{})

	tests := []struct {
		hour     int
		min, max float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{19, 0, 0},
		{12, 45 * 0.9, 45 * 1.1},
		{9, 22.5 * 0.9, 22.5 * 1.1},
		{15, 22.5 * 0.9, 22.5 * 1.1},
	}
	for _, tt := range tests {
		got := s.Production(tt.hour)
		assert.GreaterOrEqual(t, got, tt.min, "hour %d", tt.hour)
		assert.LessOrEqual(t, got, tt.max, "hour %d", tt.hour)
	}
}

func TestStepBatteryBuckets(t *testing.T) {
	tests := []struct {
		name  string
		hour  int
		delta float64
	}{
		{"night", 3, -0.5},
		{"morning", 9, 1.0},
		{"afternoon", 14, 1.5},
		{"evening", 20, -1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := time.Date(2024, 6, 1, tt.hour, 0, 0, 0, time.UTC)
			s := newTestSimulator(grid.Plant{BatteryCapacityKWh: 200, BatteryLevel: 50}, at)
			p := s.Step(3 * time.Second)
			assert.InDelta(t, 50+tt.delta*0.005, p.BatteryLevel, 1e-9)
		})
	}
}

func TestStepClampsBattery(t *testing.T) {
	at := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	s := newTestSimulator(grid.Plant{BatteryCapacityKWh: 200, BatteryLevel: 5}, at)
	assert.Equal(t, MinBatteryLevel, s.Step(time.Second).BatteryLevel)

	at = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)
	s = newTestSimulator(grid.Plant{BatteryCapacityKWh: 200, BatteryLevel: 100}, at)
	assert.Equal(t, MaxBatteryLevel, s.Step(time.Second).BatteryLevel)
}

func TestStepAccumulatesProduction(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestSimulator(grid.Plant{BatteryCapacityKWh: 200, BatteryLevel: 70}, at)

	p := s.Step(time.Hour)
	assert.Positive(t, p.CurrentProductionKW)
	assert.InDelta(t, p.CurrentProductionKW, p.DailyProductionKWh, 0.01)
	assert.Equal(t, p.DailyProductionKWh, p.MonthlyProductionKWh)
}

func TestSurplusAboveThreshold(t *testing.T) {
	// 75% of 200 kWh with a 60% reserve leaves 30 kWh to sell.
	s := newTestSimulator(grid.Plant{BatteryCapacityKWh: 200, BatteryLevel: 75}, time.Time{})
	assert.InDelta(t, 30.0, s.Surplus(), 1e-9)

	s.Restore(grid.Plant{BatteryCapacityKWh: 200, BatteryLevel: 55})
	assert.Zero(t, s.Surplus())
}

func TestDischarge(t *testing.T) {
	s := newTestSimulator(grid.Plant{BatteryCapacityKWh: 200, BatteryLevel: 75}, time.Time{})

	s.Discharge(20)
	p := s.State()
	assert.InDelta(t, 65.0, p.BatteryLevel, 1e-9)
	assert.Equal(t, 20.0, p.TotalSoldKWh)

	s.Discharge(500)
	assert.Zero(t, s.State().BatteryLevel)
}
