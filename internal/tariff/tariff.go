package tariff

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects how a trade is priced.
type Mode string

const (
	TOU   Mode = "tou"   // time-of-use: peak / off-peak rates
	Fixed Mode = "fixed" // one constant rate
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case TOU, Fixed:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown pricing mode %q (want tou or fixed)", s)
}

func (m *Mode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Period is the TOU period a moment falls into.
type Period string

const (
	Peak    Period = "peak"
	OffPeak Period = "off-peak"
)

// Window is a daily time range in HH:mm. End before Start wraps midnight.
type Window struct {
	Start string
	End   string
}

// Contains reports whether the time of day of t is in [Start, End).
func (w Window) Contains(t time.Time) bool {
	start, err := time.Parse("15:04", w.Start)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", w.End)
	if err != nil {
		return false
	}

	minute := t.Hour()*60 + t.Minute()
	from := start.Hour()*60 + start.Minute()
	to := end.Hour()*60 + end.Minute()

	// Handle overnight windows (e.g., 22:00 - 07:00)
	if to < from {
		return minute >= from || minute < to
	}
	return minute >= from && minute < to
}

// Rates is one side of the tariff in THB/kWh.
type Rates struct {
	Fixed   decimal.Decimal
	Peak    decimal.Decimal
	OffPeak decimal.Decimal
}

// NewRates builds Rates from float config values.
func NewRates(fixed, peak, offPeak float64) Rates {
	return Rates{
		Fixed:   decimal.NewFromFloat(fixed),
		Peak:    decimal.NewFromFloat(peak),
		OffPeak: decimal.NewFromFloat(offPeak),
	}
}

// Schedule prices energy for the pool. Buy is what the pool pays sellers,
// Sell is what buyers pay the pool; the two are independent.
type Schedule struct {
	PeakWindow Window
	Buy        Rates
	Sell       Rates
}

// Period returns the TOU period at t.
func (s Schedule) Period(t time.Time) Period {
	if s.PeakWindow.Contains(t) {
		return Peak
	}
	return OffPeak
}

// BuyPrice is the unit price the pool pays a seller under mode at t.
func (s Schedule) BuyPrice(mode Mode, t time.Time) decimal.Decimal {
	return s.price(s.Buy, mode, t)
}

// SellPrice is the unit price a buyer pays the pool under mode at t.
func (s Schedule) SellPrice(mode Mode, t time.Time) decimal.Decimal {
	return s.price(s.Sell, mode, t)
}

func (s Schedule) price(r Rates, mode Mode, t time.Time) decimal.Decimal {
	if mode == Fixed {
		return r.Fixed
	}
	if s.Period(t) == Peak {
		return r.Peak
	}
	return r.OffPeak
}

// Spread returns sell minus buy price for mode at t. A negative spread means
// the pool loses money on every kWh it passes through.
func (s Schedule) Spread(mode Mode, t time.Time) decimal.Decimal {
	return s.SellPrice(mode, t).Sub(s.BuyPrice(mode, t))
}
