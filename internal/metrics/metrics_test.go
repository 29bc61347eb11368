package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExportsRecordedValues(t *testing.T) {
	m := New()
	m.Trade("buy", 40)
	m.Rejected("insufficient_reserve")
	m.Book(5, 4, 40)
	m.Plant(75, 30)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `microgrid_trades_total{type="buy"} 1`)
	assert.Contains(t, out, `microgrid_traded_kwh_total{type="buy"} 40`)
	assert.Contains(t, out, `microgrid_trade_rejections_total{reason="insufficient_reserve"} 1`)
	assert.Contains(t, out, "microgrid_open_sell_offers 5")
	assert.Contains(t, out, "microgrid_plant_battery_percent 75")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Trade("sell", 1)
		m.Rejected("x")
		m.Book(1, 1, 1)
		m.Plant(1, 1)
	})
}
