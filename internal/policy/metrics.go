package policy

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for policy evaluation.
type Metrics struct {
	evaluationTotal    *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	endpointTotal      *prometheus.CounterVec
	endpointDuration   *prometheus.HistogramVec
	registry           *prometheus.Registry
}

var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

// GetSharedMetrics returns the singleton Metrics instance.
func GetSharedMetrics() *Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = NewMetrics("docguard")
	})
	return sharedMetrics
}

// Init pre-initializes common label combinations with zero values so that
// metrics appear in /metrics output immediately after startup.
func (m *Metrics) Init(endpoints []string) {
	for _, decision := range []string{"allow", "deny"} {
		m.evaluationTotal.WithLabelValues(decision)
		m.evaluationDuration.WithLabelValues(decision)
	}
	for _, endpoint := range endpoints {
		for _, outcome := range []string{"allow", "deny", "error"} {
			m.endpointTotal.WithLabelValues(endpoint, outcome)
			m.endpointDuration.WithLabelValues(endpoint, outcome)
		}
	}
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "docguard"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.evaluationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "evaluation_total",
			Help:      "Total number of compound policy evaluations",
		},
		[]string{"decision"},
	)

	m.evaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "evaluation_duration_seconds",
			Help:      "Compound policy evaluation duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"decision"},
	)

	m.endpointTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "endpoint_total",
			Help:      "Total number of policy endpoint calls by outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	m.endpointDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "endpoint_duration_seconds",
			Help:      "Policy endpoint call duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"endpoint", "outcome"},
	)

	m.registry.MustRegister(
		m.evaluationTotal,
		m.evaluationDuration,
		m.endpointTotal,
		m.endpointDuration,
	)

	return m
}

// RecordEvaluation records a compound evaluation outcome.
func (m *Metrics) RecordEvaluation(decision string, duration time.Duration) {
	m.evaluationTotal.WithLabelValues(decision).Inc()
	m.evaluationDuration.WithLabelValues(decision).Observe(duration.Seconds())
}

// RecordEndpointCall records one endpoint call.
func (m *Metrics) RecordEndpointCall(endpoint, outcome string, duration time.Duration) {
	m.endpointTotal.WithLabelValues(endpoint, outcome).Inc()
	m.endpointDuration.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}

// Registry returns the metrics registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
