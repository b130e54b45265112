package metrics

import "github.com/prometheus/client_golang/prometheus"

// FiscalMetrics tracks fiscal number issuance per series.
type FiscalMetrics struct {
	consumed  *prometheus.CounterVec
	reserved  *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	remaining *prometheus.GaugeVec
}

// NewFiscalMetrics registers the fiscal collectors on reg.
func NewFiscalMetrics(reg prometheus.Registerer) *FiscalMetrics {
	if reg == nil {
		return &FiscalMetrics{}
	}
	m := &FiscalMetrics{
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fiscal_numbers_consumed_total",
			Help:      "Fiscal numbers handed out from local leases.",
		}, []string{"series"}),
		reserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fiscal_leases_reserved_total",
			Help:      "Leases obtained from the server, by outcome (granted, hydrated).",
		}, []string{"series", "outcome"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fiscal_exhausted_total",
			Help:      "Consume attempts that failed with no number available.",
		}, []string{"series"}),
		remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fiscal_remaining_numbers",
			Help:      "Numbers left across active local leases.",
		}, []string{"series"}),
	}
	reg.MustRegister(m.consumed, m.reserved, m.exhausted, m.remaining)
	return m
}

func (m *FiscalMetrics) IncConsumed(series string) {
	if m == nil || m.consumed == nil {
		return
	}
	m.consumed.WithLabelValues(normalizeLabel(series)).Inc()
}

func (m *FiscalMetrics) IncReserved(series, outcome string) {
	if m == nil || m.reserved == nil {
		return
	}
	m.reserved.WithLabelValues(normalizeLabel(series), normalizeLabel(outcome)).Inc()
}

func (m *FiscalMetrics) IncExhausted(series string) {
	if m == nil || m.exhausted == nil {
		return
	}
	m.exhausted.WithLabelValues(normalizeLabel(series)).Inc()
}

func (m *FiscalMetrics) SetRemaining(series string, remaining int64) {
	if m == nil || m.remaining == nil {
		return
	}
	m.remaining.WithLabelValues(normalizeLabel(series)).Set(float64(remaining))
}
