package authz

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

// Metrics tracks authorization decision outcomes per chain stage.
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// GetSharedMetrics returns a process-wide Metrics instance.
func GetSharedMetrics() *Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = NewMetrics("docguard")
	})
	return sharedMetrics
}

// NewMetrics creates Metrics registered on a dedicated registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "docguard"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decisions_total",
				Help:      "Authorization decisions by stage, outcome and code",
			},
			[]string{"stage", "outcome", "code"},
		),
		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decision_duration_seconds",
				Help:      "Time spent producing an authorization decision",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		registry: registry,
	}

	registry.MustRegister(m.decisionsTotal, m.decisionDuration)

	return m
}

// RecordDecision counts one decision.
func (m *Metrics) RecordDecision(d *Decision, duration time.Duration) {
	if m == nil || d == nil {
		return
	}
	outcome := "deny"
	code := d.Code
	if d.Allow {
		outcome = "allow"
		code = "none"
	}
	m.decisionsTotal.WithLabelValues(d.Stage, outcome, code).Inc()
	m.decisionDuration.WithLabelValues(d.Stage).Observe(duration.Seconds())
}

// Registry exposes the underlying registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
