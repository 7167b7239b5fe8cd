package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the transport collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	state       prometheus.Gauge
	reconnects  prometheus.Counter
	staleCloses prometheus.Counter
	outboxDepth prometheus.Gauge
	sent        prometheus.Counter
	received    *prometheus.CounterVec
	ackTimeouts prometheus.Counter
}

// NewMetrics registers the transport collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rfq",
			Subsystem: "transport",
			Name:      "state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=open, 3=closing).",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rfq",
			Subsystem: "transport",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a close or failed dial.",
		}),
		staleCloses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rfq",
			Subsystem: "transport",
			Name:      "stale_closes_total",
			Help:      "Connections force-closed for missing pongs.",
		}),
		outboxDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rfq",
			Subsystem: "transport",
			Name:      "outbox_depth",
			Help:      "Messages queued while the connection is not open.",
		}),
		sent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rfq",
			Subsystem: "transport",
			Name:      "messages_sent_total",
			Help:      "Frames written to the relayer.",
		}),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfq",
			Subsystem: "transport",
			Name:      "messages_received_total",
			Help:      "Frames received from the relayer by message type.",
		}, []string{"type"}),
		ackTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rfq",
			Subsystem: "transport",
			Name:      "ack_timeouts_total",
			Help:      "Correlated requests that timed out waiting for a reply.",
		}),
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *Metrics) reconnectScheduled() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) staleClosed() {
	if m != nil {
		m.staleCloses.Inc()
	}
}

func (m *Metrics) setOutbox(n int) {
	if m != nil {
		m.outboxDepth.Set(float64(n))
	}
}

func (m *Metrics) messageSent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *Metrics) messageReceived(msgType string) {
	if m != nil {
		m.received.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) ackTimedOut() {
	if m != nil {
		m.ackTimeouts.Inc()
	}
}
