// Package health provides liveness and readiness probe endpoints for the
// document guard.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/docguard/internal/observability"
)

// Status represents a probe status.
type Status string

const (
	// StatusHealthy indicates the service is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy Status = "unhealthy"
)

// DefaultProbeTimeout bounds a single readiness pass.
const DefaultProbeTimeout = 5 * time.Second

// Check is an individual readiness check result.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the liveness response body.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the readiness response body.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Checker aggregates dependency checks behind the probe endpoints.
type Checker struct {
	version      string
	startTime    time.Time
	probeTimeout time.Duration
	logger       observability.Logger

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithProbeTimeout bounds a readiness pass.
func WithProbeTimeout(timeout time.Duration) CheckerOption {
	return func(c *Checker) {
		if timeout > 0 {
			c.probeTimeout = timeout
		}
	}
}

// WithCheckerLogger sets the operational logger.
func WithCheckerLogger(logger observability.Logger) CheckerOption {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChecker creates a Checker.
func NewChecker(version string, opts ...CheckerOption) *Checker {
	c := &Checker{
		version:      version,
		startTime:    time.Now(),
		probeTimeout: DefaultProbeTimeout,
		logger:       observability.NopLogger(),
		checks:       make(map[string]CheckFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterCheck adds a named readiness check.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Health returns the liveness status. Liveness never depends on
// downstream systems; a degraded dependency must not restart the pod.
func (c *Checker) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Readiness runs every registered check. The checks run concurrently
// under one probe timeout.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	funcs := make([]CheckFunc, 0, len(c.checks))
	for name, fn := range c.checks {
		names = append(names, name)
		funcs = append(funcs, fn)
	}
	c.mu.RUnlock()

	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(names)),
		Timestamp: time.Now(),
	}

	type outcome struct {
		name string
		err  error
	}
	results := make(chan outcome, len(names))
	for i := range names {
		go func(name string, fn CheckFunc) {
			results <- outcome{name: name, err: fn(ctx)}
		}(names[i], funcs[i])
	}

	for range names {
		result := <-results
		check := Check{Status: StatusHealthy}
		if result.err != nil {
			check = Check{Status: StatusUnhealthy, Message: result.err.Error()}
			response.Status = StatusUnhealthy
			c.logger.Warn("readiness check failed",
				observability.String("check", result.name),
				observability.Error(result.err),
			)
		}
		response.Checks[result.name] = check
	}

	return response
}

// HealthHandler serves the liveness probe.
func (c *Checker) HealthHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Health())
	}
}

// ReadinessHandler serves the readiness probe. Not ready answers 503 so
// the orchestrator takes the instance out of rotation.
func (c *Checker) ReadinessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response := c.Readiness(ctx.Request.Context())
		status := http.StatusOK
		if response.Status != StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, response)
	}
}
