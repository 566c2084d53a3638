// Package observability provides a Prometheus metrics implementation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics records gateway measurements into Prometheus collectors.
type PromMetrics struct {
	decisions   *prometheus.CounterVec
	failOpens   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	overrides   *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// NewPromMetrics constructs and registers the gateway collectors.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_admission_decisions_total",
			Help: "Admission decisions by result and priority class.",
		}, []string{"result", "class", "region"}),
		failOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_fail_open_total",
			Help: "Quota ledger fail-open anomalies.",
		}, []string{"region"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_circuit_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"upstream", "from", "to"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_store_errors_total",
			Help: "Counter store errors by operation.",
		}, []string{"op", "region"}),
		overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_override_actions_total",
			Help: "Emergency override administration actions.",
		}, []string{"action"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_operation_seconds",
			Help:    "Latency of gateway operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "region"}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.failOpens, m.transitions, m.storeErrors, m.overrides, m.latency)
	}
	return m
}

// IncDecision increments a decision counter.
func (m *PromMetrics) IncDecision(result string, class string, region string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(result, class, region).Inc()
}

// IncFailOpen increments the fail-open anomaly counter.
func (m *PromMetrics) IncFailOpen(region string) {
	if m == nil {
		return
	}
	m.failOpens.WithLabelValues(region).Inc()
}

// IncCircuitTransition increments a circuit transition counter.
func (m *PromMetrics) IncCircuitTransition(upstream string, from string, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(upstream, from, to).Inc()
}

// IncStoreError increments store error counters.
func (m *PromMetrics) IncStoreError(op string, region string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op, region).Inc()
}

// IncOverride increments override administration counters.
func (m *PromMetrics) IncOverride(action string) {
	if m == nil {
		return
	}
	m.overrides.WithLabelValues(action).Inc()
}

// ObserveLatency tracks latency measurements.
func (m *PromMetrics) ObserveLatency(op string, d time.Duration, region string) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(op, region).Observe(d.Seconds())
}
