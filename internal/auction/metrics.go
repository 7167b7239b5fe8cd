package auction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the session controller collectors. A nil *Metrics is valid.
type Metrics struct {
	requests   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	bidCount   prometheus.Gauge
	ackLatency prometheus.Histogram
}

// NewMetrics registers the auction collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfq",
			Subsystem: "auction",
			Name:      "requests_total",
			Help:      "requestQuotes calls by outcome (sent, skipped, superseded, invalid).",
		}, []string{"outcome"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfq",
			Subsystem: "auction",
			Name:      "messages_dropped_total",
			Help:      "Inbound auction messages discarded, by reason.",
		}, []string{"reason"}),
		bidCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rfq",
			Subsystem: "auction",
			Name:      "bids",
			Help:      "Bids in the current snapshot.",
		}),
		ackLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rfq",
			Subsystem: "auction",
			Name:      "ack_latency_seconds",
			Help:      "Time from auction.start to auction.ack.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
}

func (m *Metrics) request(outcome string) {
	if m != nil {
		m.requests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) drop(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) setBids(n int) {
	if m != nil {
		m.bidCount.Set(float64(n))
	}
}

func (m *Metrics) observeAck(seconds float64) {
	if m != nil {
		m.ackLatency.Observe(seconds)
	}
}
