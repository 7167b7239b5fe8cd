package autobid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the auto-bid collectors. A nil *Metrics is valid.
type Metrics struct {
	announcements *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	autoPaused    prometheus.Counter
	orders        prometheus.Gauge
}

// NewMetrics registers the auto-bid collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		announcements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfq",
			Subsystem: "autobid",
			Name:      "announcements_total",
			Help:      "auction.started announcements by intake result.",
		}, []string{"result"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfq",
			Subsystem: "autobid",
			Name:      "decisions_total",
			Help:      "Matched (order, auction) pairs by outcome.",
		}, []string{"outcome"}),
		autoPaused: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rfq",
			Subsystem: "autobid",
			Name:      "orders_auto_paused_total",
			Help:      "Expired resting orders paused by the loop.",
		}),
		orders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rfq",
			Subsystem: "autobid",
			Name:      "active_orders",
			Help:      "Resting orders in the last refresh.",
		}),
	}
}

func (m *Metrics) announcement(result string) {
	if m != nil {
		m.announcements.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) decision(outcome string) {
	if m != nil {
		m.decisions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) paused() {
	if m != nil {
		m.autoPaused.Inc()
	}
}

func (m *Metrics) setOrders(n int) {
	if m != nil {
		m.orders.Set(float64(n))
	}
}
