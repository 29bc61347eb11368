package grid

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// HistoryPeriod selects which history series to export.
type HistoryPeriod string

const (
	PeriodHourly  HistoryPeriod = "hourly"
	PeriodDaily   HistoryPeriod = "daily"
	PeriodMonthly HistoryPeriod = "monthly"
)

func ParseHistoryPeriod(s string) (HistoryPeriod, error) {
	switch HistoryPeriod(s) {
	case PeriodHourly, PeriodDaily, PeriodMonthly:
		return HistoryPeriod(s), nil
	}
	return "", fmt.Errorf("unknown history period %q", s)
}

// WriteHistoryCSV writes one series of h's history as CSV.
func WriteHistoryCSV(w io.Writer, h Household, period HistoryPeriod) error {
	cw := csv.NewWriter(w)

	var rows [][]string
	switch period {
	case PeriodHourly:
		rows = append(rows, []string{"timestamp", "consumption_kw"})
		for _, p := range h.History.Hourly {
			rows = append(rows, []string{p.Timestamp.Format(time.RFC3339), fmtFloat(p.Consumption)})
		}
	case PeriodDaily:
		rows = append(rows, []string{"date", "consumption_kwh"})
		for _, p := range h.History.Daily {
			rows = append(rows, []string{p.Timestamp.Format("2006-01-02"), fmtFloat(p.Consumption)})
		}
	case PeriodMonthly:
		rows = append(rows, []string{"month", "consumption_kwh"})
		for _, p := range h.History.Monthly {
			rows = append(rows, []string{p.Month, fmtFloat(p.Consumption)})
		}
	default:
		return fmt.Errorf("unknown history period %q", period)
	}

	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// HistoryFilename is the suggested download name for an export.
func HistoryFilename(h Household, period HistoryPeriod) string {
	return fmt.Sprintf("energy_data_house_%d_%s.csv", h.ID, period)
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}
