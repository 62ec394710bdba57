// Package metrics exposes runner counters and gauges to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several runners (and tests) never collide on
// the global one. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Signals       *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Orders        *prometheus.CounterVec
	CycleErrors   *prometheus.CounterVec
	CyclesSkipped *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	PositionsOpen *prometheus.GaugeVec
	Equity        prometheus.Gauge
	Drawdown      prometheus.Gauge
	BreakerOpen   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtfsignal_signals_total",
			Help: "Entry signals emitted by the generator.",
		}, []string{"symbol", "direction"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtfsignal_rejections_total",
			Help: "Entry signals rejected by filters or risk checks.",
		}, []string{"symbol", "reason"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtfsignal_orders_total",
			Help: "Orders filled, by action.",
		}, []string{"symbol", "action"}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtfsignal_cycle_errors_total",
			Help: "Pipeline cycles that ended with an error.",
		}, []string{"symbol"}),
		CyclesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtfsignal_cycles_skipped_total",
			Help: "Cycles skipped because the previous one was still running.",
		}, []string{"symbol"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mtfsignal_cycle_duration_seconds",
			Help:    "Wall time of one pipeline cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"symbol"}),
		PositionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mtfsignal_positions_open",
			Help: "Open positions per symbol.",
		}, []string{"symbol"}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mtfsignal_equity",
			Help: "Account balance after realised P&L.",
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mtfsignal_drawdown_ratio",
			Help: "Drawdown from the equity peak as a fraction.",
		}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mtfsignal_breaker_open",
			Help: "1 while the drawdown breaker blocks entries.",
		}),
	}
	m.Registry.MustRegister(
		m.Signals, m.Rejections, m.Orders, m.CycleErrors, m.CyclesSkipped,
		m.CycleDuration, m.PositionsOpen, m.Equity, m.Drawdown, m.BreakerOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Signal(symbol, direction string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(symbol, direction).Inc()
}

func (m *Metrics) Rejected(symbol, reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) Order(symbol, action string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(symbol, action).Inc()
}

func (m *Metrics) Cycle(symbol string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(symbol).Observe(took.Seconds())
	if err != nil {
		m.CycleErrors.WithLabelValues(symbol).Inc()
	}
}

func (m *Metrics) Skipped(symbol string) {
	if m == nil {
		return
	}
	m.CyclesSkipped.WithLabelValues(symbol).Inc()
}

func (m *Metrics) Position(symbol string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.PositionsOpen.WithLabelValues(symbol).Set(v)
}

func (m *Metrics) Account(equity, drawdown float64, breakerOpen bool) {
	if m == nil {
		return
	}
	m.Equity.Set(equity)
	m.Drawdown.Set(drawdown)
	v := 0.0
	if breakerOpen {
		v = 1
	}
	m.BreakerOpen.Set(v)
}
