package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics counts outbox rows moved to Pub/Sub by outcome.
type RelayMetrics struct {
	events *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_relay_events_total",
		Help:      "Outbox rows processed by the relay, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(events)
	return &RelayMetrics{events: events}
}

// Inc records one row; outcome is published, retry or dead_lettered.
func (m *RelayMetrics) Inc(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}
