package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "possync"

// SyncMetrics tracks event transmission outcomes.
type SyncMetrics struct {
	acked     prometheus.Counter
	rejected  prometheus.Counter
	transient prometheus.Counter
	pending   prometheus.Gauge
	batch     prometheus.Histogram
}

// NewSyncMetrics registers the sync collectors on reg. A nil registerer
// yields a no-op collector set.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	m := &SyncMetrics{
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_acked_total",
			Help:      "Events acknowledged by the server.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_rejected_total",
			Help:      "Events rejected by the server and turned into conflicts.",
		}),
		transient: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_transient_failures_total",
			Help:      "Batches that failed to transmit after retries.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_pending_events",
			Help:      "Events waiting to be transmitted.",
		}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_batch_duration_seconds",
			Help:      "Duration of a transmit batch including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.acked, m.rejected, m.transient, m.pending, m.batch)
	return m
}

func (m *SyncMetrics) AddAcked(n int) {
	if m == nil || m.acked == nil {
		return
	}
	m.acked.Add(float64(n))
}

func (m *SyncMetrics) AddRejected(n int) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.Add(float64(n))
}

func (m *SyncMetrics) IncTransient() {
	if m == nil || m.transient == nil {
		return
	}
	m.transient.Inc()
}

func (m *SyncMetrics) SetPending(n int64) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *SyncMetrics) ObserveBatch(d time.Duration) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(d.Seconds())
}
