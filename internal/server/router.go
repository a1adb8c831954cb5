package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/docguard/internal/audit"
	"github.com/vyrodovalexey/docguard/internal/auth/jwt"
	"github.com/vyrodovalexey/docguard/internal/authz"
	"github.com/vyrodovalexey/docguard/internal/health"
	"github.com/vyrodovalexey/docguard/internal/observability"
	"github.com/vyrodovalexey/docguard/internal/policy"
	"github.com/vyrodovalexey/docguard/internal/ratelimit"
	"github.com/vyrodovalexey/docguard/internal/server/middleware"
)

// RouterConfig holds everything the route tree composes.
type RouterConfig struct {
	Verifier  jwt.Verifier
	Extractor jwt.TokenExtractor
	Guard     *authz.Guard
	Handler   *DocumentHandler

	// DocLimiter throttles document operations; AuthLimiter throttles
	// authentication attempts. Either may be nil to disable that class.
	DocLimiter  ratelimit.Limiter
	AuthLimiter ratelimit.Limiter

	Checker *health.Checker

	Logger observability.Logger
	Audit  audit.Logger
	Tracer *observability.Tracer

	Security *middleware.SecurityConfig
	CORS     *middleware.CORSConfig
}

// NewRouter builds the gin engine with the full middleware chain and the
// document routes. Chain order is contractual: rate limiting answers
// before authentication, authentication before any document lookup.
func NewRouter(config RouterConfig) *gin.Engine {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.Audit == nil {
		config.Audit = audit.NopLogger()
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.RecoveryWithConfig(middleware.RecoveryConfig{Logger: config.Logger, EnableStackTrace: true}),
		middleware.Tracing(config.Tracer),
		middleware.LoggingWithConfig(middleware.LoggingConfig{Logger: config.Logger, SkipHealthCheck: true}),
		middleware.SecurityHeadersWithConfig(config.Security),
	)
	if config.CORS != nil {
		engine.Use(middleware.CORSWithConfig(*config.CORS))
	} else {
		engine.Use(middleware.CORS())
	}

	if config.Checker != nil {
		engine.GET("/healthz", config.Checker.HealthHandler())
		engine.GET("/readyz", config.Checker.ReadinessHandler())
	}
	engine.GET("/metrics", metricsHandler())

	api := engine.Group("/api/documents")
	api.Use(
		middleware.RateLimit(middleware.RateLimitConfig{
			Limiter: config.DocLimiter,
			Code:    authz.CodeDocRateExceeded,
			Logger:  config.Logger,
			Audit:   config.Audit,
		}),
		middleware.Auth(middleware.AuthConfig{
			Verifier:    config.Verifier,
			Extractor:   config.Extractor,
			AuthLimiter: config.AuthLimiter,
			Logger:      config.Logger,
			Audit:       config.Audit,
		}),
	)

	api.GET("", config.Handler.List)
	api.POST("", config.Handler.Create)
	api.GET("/:id", config.Handler.Get)
	api.PUT("/:id", config.Handler.Update)
	api.DELETE("/:id", config.Handler.Delete)

	return engine
}

// metricsHandler scrapes the default registry together with the
// per-package registries.
func metricsHandler() gin.HandlerFunc {
	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		jwt.GetSharedMetrics().Registry(),
		policy.GetSharedMetrics().Registry(),
		authz.GetSharedMetrics().Registry(),
	}
	handler := promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
