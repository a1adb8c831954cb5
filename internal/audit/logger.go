package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/docguard/internal/observability"
)

// Logger records audit events.
type Logger interface {
	// LogEvent records one audit event.
	LogEvent(ctx context.Context, event *Event)

	// Close flushes and closes the logger.
	Close() error
}

// Metrics counts recorded audit events.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetrics creates audit metrics registered with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates audit metrics on the given registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "docguard"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}
	registerer.MustRegister(m.eventsTotal)
	return m
}

// logger writes events as JSON lines.
type logger struct {
	mu      sync.Mutex
	writer  io.Writer
	closer  io.Closer
	logger  observability.Logger
	metrics *Metrics
}

// Option is a functional option for the audit logger.
type Option func(*logger)

// WithWriter sets the destination for audit lines.
func WithWriter(w io.Writer) Option {
	return func(l *logger) {
		if w != nil {
			l.writer = w
			if c, ok := w.(io.Closer); ok {
				l.closer = c
			}
		}
	}
}

// WithLogger sets the operational logger used for write failures.
func WithLogger(log observability.Logger) Option {
	return func(l *logger) {
		if log != nil {
			l.logger = log
		}
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(l *logger) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewLogger creates an audit logger writing to stdout by default.
func NewLogger(opts ...Option) Logger {
	l := &logger{
		writer: os.Stdout,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogEvent implements Logger. A failed write is reported operationally but
// never fails the request being audited.
func (l *logger) LogEvent(ctx context.Context, event *Event) {
	if event == nil {
		return
	}

	if event.RequestID == "" {
		event.RequestID = observability.RequestIDFromContext(ctx)
	}

	if l.metrics != nil {
		l.metrics.eventsTotal.WithLabelValues(string(event.Type), string(event.Outcome)).Inc()
	}

	data, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("failed to marshal audit event",
			observability.String("event_id", event.ID),
			observability.Error(err),
		)
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	_, err = l.writer.Write(data)
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("failed to write audit event",
			observability.String("event_id", event.ID),
			observability.Error(err),
		)
	}
}

// Close implements Logger.
func (l *logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// NopLogger returns a Logger that discards every event.
func NopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) LogEvent(context.Context, *Event) {}
func (n *nopLogger) Close() error                     { return nil }
