package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/liveview/pkg/protocol"
)

// Metrics holds the server's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	connections      *prometheus.GaugeVec
	connects         *prometheus.CounterVec
	events           *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	protocolErrors   prometheus.Counter
	rateLimited      prometheus.Counter
	missedHeartbeats prometheus.Counter
	evictions        *prometheus.CounterVec
}

// newMetrics registers the server collectors with reg. stats backs the
// session gauges.
func newMetrics(reg prometheus.Registerer, namespace string, stats func() RegistryStats) *Metrics {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "attached_sessions",
		Help:      "Number of live sessions owned by a connection",
	}, func() float64 { return float64(stats().Attached) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "detached_sessions",
		Help:      "Number of detached sessions waiting to be resumed",
	}, func() float64 { return float64(stats().Detached) })

	return &Metrics{
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open connections by transport",
		}, []string{"transport"}),

		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connect messages by result (mounted, resumed, takeover)",
		}, []string{"result"}),

		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Dispatched events by outcome",
		}, []string{"outcome"}),

		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Server messages sent by type",
		}, []string{"type"}),

		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections dropped for malformed messages",
		}),

		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_events_total",
			Help:      "Events dropped by the per-connection rate limit",
		}),

		missedHeartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missed_heartbeats_total",
			Help:      "Heartbeat probes that were not acknowledged in time",
		}),

		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Evicted sessions by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) connOpened(transport string) {
	if m != nil {
		m.connections.WithLabelValues(transport).Inc()
	}
}

func (m *Metrics) connClosed(transport string) {
	if m != nil {
		m.connections.WithLabelValues(transport).Dec()
	}
}

func (m *Metrics) connected(result string) {
	if m != nil {
		m.connects.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) dispatched(kind OutcomeKind) {
	if m != nil {
		m.events.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) sent(t protocol.MessageType) {
	if m != nil {
		m.messagesSent.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) protocolError() {
	if m != nil {
		m.protocolErrors.Inc()
	}
}

func (m *Metrics) limited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) missedHeartbeat() {
	if m != nil {
		m.missedHeartbeats.Inc()
	}
}

func (m *Metrics) evicted(reason string) {
	if m != nil {
		m.evictions.WithLabelValues(reason).Inc()
	}
}
