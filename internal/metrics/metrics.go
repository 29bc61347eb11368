package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the pool and plant gauges exported on /metrics. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	trades       *prometheus.CounterVec
	tradedKWh    *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	reserveKWh   prometheus.Gauge
	openOffers   prometheus.Gauge
	openRequests prometheus.Gauge
	plantBattery prometheus.Gauge
	plantOutput  prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "microgrid_trades_total",
			Help: "Trades executed by the pool, by side",
		}, []string{"type"}),
		tradedKWh: f.NewCounterVec(prometheus.CounterOpts{
			Name: "microgrid_traded_kwh_total",
			Help: "Energy traded by the pool in kWh, by side",
		}, []string{"type"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "microgrid_trade_rejections_total",
			Help: "Trades rejected, by reason",
		}, []string{"reason"}),
		reserveKWh: f.NewGauge(prometheus.GaugeOpts{
			Name: "microgrid_reserve_kwh",
			Help: "Energy held by the pool",
		}),
		openOffers: f.NewGauge(prometheus.GaugeOpts{
			Name: "microgrid_open_sell_offers",
			Help: "Sell offers on the book",
		}),
		openRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "microgrid_open_buy_requests",
			Help: "Buy requests on the book",
		}),
		plantBattery: f.NewGauge(prometheus.GaugeOpts{
			Name: "microgrid_plant_battery_percent",
			Help: "Central plant battery level",
		}),
		plantOutput: f.NewGauge(prometheus.GaugeOpts{
			Name: "microgrid_plant_production_kw",
			Help: "Central plant current production",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Trade(side string, kWh float64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(side).Inc()
	m.tradedKWh.WithLabelValues(side).Add(kWh)
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Book(offers, requests int, reserveKWh float64) {
	if m == nil {
		return
	}
	m.openOffers.Set(float64(offers))
	m.openRequests.Set(float64(requests))
	m.reserveKWh.Set(reserveKWh)
}

func (m *Metrics) Plant(batteryPercent, productionKW float64) {
	if m == nil {
		return
	}
	m.plantBattery.Set(batteryPercent)
	m.plantOutput.Set(productionKW)
}
