package jwt

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for token verification and key
// resolution.
type Metrics struct {
	verificationTotal    *prometheus.CounterVec
	verificationDuration *prometheus.HistogramVec
	keyResolutionTotal   *prometheus.CounterVec
	keyFetchTotal        prometheus.Counter
	registry             *prometheus.Registry
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

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "docguard"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.verificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "verification_total",
			Help:      "Total number of token verification attempts",
		},
		[]string{"status", "reason"},
	)

	m.verificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "verification_duration_seconds",
			Help:      "Token verification duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status"},
	)

	m.keyResolutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keydir",
			Name:      "resolution_total",
			Help:      "Total number of signing key resolutions by outcome",
		},
		[]string{"outcome"},
	)

	m.keyFetchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keydir",
			Name:      "fetch_total",
			Help:      "Total number of key directory fetches",
		},
	)

	m.registry.MustRegister(
		m.verificationTotal,
		m.verificationDuration,
		m.keyResolutionTotal,
		m.keyFetchTotal,
	)

	return m
}

// RecordVerification records a verification attempt.
func (m *Metrics) RecordVerification(status, reason string, duration time.Duration) {
	m.verificationTotal.WithLabelValues(status, reason).Inc()
	m.verificationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordKeyResolution records a key resolution outcome
// (hit, miss, stale, negative, unknown, error).
func (m *Metrics) RecordKeyResolution(outcome string) {
	m.keyResolutionTotal.WithLabelValues(outcome).Inc()
}

// RecordKeyFetch records an outbound directory fetch.
func (m *Metrics) RecordKeyFetch() {
	m.keyFetchTotal.Inc()
}

// Registry returns the metrics registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
