package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PublishMetrics covers per-target upload outcomes, credential refreshes and sweep throughput.
type PublishMetrics struct {
	outcomes       *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	refreshes      *prometheus.CounterVec
	claimed        prometheus.Counter
	resolved       *prometheus.CounterVec
}

func NewPublishMetrics(reg prometheus.Registerer) *PublishMetrics {
	if reg == nil {
		return &PublishMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_outcomes_total",
		Help:      "Publish records appended, by platform and status.",
	}, []string{"platform", "status"})
	uploadDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_duration_seconds",
		Help:      "Wall time of a target upload including in-attempt retries.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"platform"})
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credential_refresh_total",
		Help:      "Credential refresh calls made against platform token endpoints.",
	}, []string{"platform", "result"})
	claimed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_claimed_entries_total",
		Help:      "Schedule entries claimed for publishing by the sweep.",
	})
	resolved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_resolved_total",
		Help:      "Schedule entries reaching a terminal state, by state.",
	}, []string{"state"})
	reg.MustRegister(outcomes, uploadDuration, refreshes, claimed, resolved)
	return &PublishMetrics{
		outcomes:       outcomes,
		uploadDuration: uploadDuration,
		refreshes:      refreshes,
		claimed:        claimed,
		resolved:       resolved,
	}
}

// ObserveOutcome counts one appended publish record and its upload time.
func (m *PublishMetrics) ObserveOutcome(platform, status string, duration time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(platform), normalizeLabel(status)).Inc()
	if duration > 0 {
		m.uploadDuration.WithLabelValues(normalizeLabel(platform)).Observe(duration.Seconds())
	}
}

func (m *PublishMetrics) IncRefresh(platform string, ok bool) {
	if m == nil || m.refreshes == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.refreshes.WithLabelValues(normalizeLabel(platform), result).Inc()
}

func (m *PublishMetrics) AddClaimed(n int) {
	if m == nil || m.claimed == nil || n <= 0 {
		return
	}
	m.claimed.Add(float64(n))
}

func (m *PublishMetrics) IncResolved(state string) {
	if m == nil || m.resolved == nil {
		return
	}
	m.resolved.WithLabelValues(normalizeLabel(state)).Inc()
}
