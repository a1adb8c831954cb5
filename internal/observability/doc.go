// Package observability provides structured logging, Prometheus metrics
// exposition, and OpenTelemetry tracing for the document release gateway.
package observability
