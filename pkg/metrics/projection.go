package metrics

import "github.com/prometheus/client_golang/prometheus"

// ProjectionMetrics tracks read-model application per event type.
type ProjectionMetrics struct {
	applied    *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

// NewProjectionMetrics registers the projection collectors on reg.
func NewProjectionMetrics(reg prometheus.Registerer) *ProjectionMetrics {
	if reg == nil {
		return &ProjectionMetrics{}
	}
	m := &ProjectionMetrics{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_applied_total",
			Help:      "Events applied to read models.",
		}, []string{"type"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_duplicates_total",
			Help:      "Events skipped because they were already applied.",
		}, []string{"type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_failures_total",
			Help:      "Events whose handler failed.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.applied, m.duplicates, m.failures)
	return m
}

func (m *ProjectionMetrics) IncApplied(eventType string) {
	if m == nil || m.applied == nil {
		return
	}
	m.applied.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *ProjectionMetrics) IncDuplicate(eventType string) {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *ProjectionMetrics) IncFailure(eventType string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(eventType)).Inc()
}
