package tariff

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedule() Schedule {
	return Schedule{
		PeakWindow: Window{Start: "09:00", End: "22:00"},
		Buy:        NewRates(4.0, 4.5, 2.8),
		Sell:       NewRates(4.6, 5.5, 3.2),
	}
}

func TestWindowContains(t *testing.T) {
	day := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		window Window
		at     time.Duration
		want   bool
	}{
		{"start is inclusive", Window{"09:00", "22:00"}, 9 * time.Hour, true},
		{"end is exclusive", Window{"09:00", "22:00"}, 22 * time.Hour, false},
		{"before start", Window{"09:00", "22:00"}, 8*time.Hour + 59*time.Minute, false},
		{"overnight late", Window{"22:00", "07:00"}, 23 * time.Hour, true},
		{"overnight early", Window{"22:00", "07:00"}, 6 * time.Hour, true},
		{"overnight midday", Window{"22:00", "07:00"}, 12 * time.Hour, false},
		{"bad format", Window{"9am", "22:00"}, 12 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Contains(day.Add(tt.at)))
		})
	}
}

func TestSchedulePrices(t *testing.T) {
	s := testSchedule()
	peak := time.Date(2024, 12, 1, 18, 0, 0, 0, time.UTC)
	night := time.Date(2024, 12, 1, 3, 0, 0, 0, time.UTC)

	assert.Equal(t, "4", s.BuyPrice(Fixed, peak).String())
	assert.Equal(t, "4", s.BuyPrice(Fixed, night).String())
	assert.Equal(t, "4.5", s.BuyPrice(TOU, peak).String())
	assert.Equal(t, "2.8", s.BuyPrice(TOU, night).String())
	assert.Equal(t, "5.5", s.SellPrice(TOU, peak).String())
	assert.Equal(t, "3.2", s.SellPrice(TOU, night).String())
	assert.Equal(t, Peak, s.Period(peak))
	assert.Equal(t, OffPeak, s.Period(night))
	assert.True(t, s.Spread(Fixed, peak).IsPositive())
}

func TestSchedulePriceIsStableWithinPeriod(t *testing.T) {
	s := testSchedule()
	at := time.Date(2024, 12, 1, 10, 15, 0, 0, time.UTC)

	first := s.SellPrice(TOU, at)
	second := s.SellPrice(TOU, at.Add(30*time.Minute))
	assert.True(t, first.Equal(second))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("tou")
	require.NoError(t, err)
	assert.Equal(t, TOU, m)

	_, err = ParseMode("spot")
	assert.Error(t, err)

	var decoded struct{ Mode Mode }
	require.NoError(t, json.Unmarshal([]byte(`{"Mode":"fixed"}`), &decoded))
	assert.Equal(t, Fixed, decoded.Mode)
	assert.Error(t, json.Unmarshal([]byte(`{"Mode":"spot"}`), &decoded))
}
