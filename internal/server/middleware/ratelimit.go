package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/docguard/internal/audit"
	"github.com/vyrodovalexey/docguard/internal/authz"
	"github.com/vyrodovalexey/docguard/internal/observability"
	"github.com/vyrodovalexey/docguard/internal/ratelimit"
)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// Limiter is the admission check for this route class.
	Limiter ratelimit.Limiter

	// KeyFunc derives the limit key from the request. Defaults to client IP.
	KeyFunc ratelimit.KeyFunc

	// Code is the machine code answered on denial. Distinguishes the
	// document class from the authentication class.
	Code string

	Logger  observability.Logger
	Audit   audit.Logger
	Metrics *authz.Metrics
}

// RateLimit returns a middleware enforcing the given route class limit.
// It runs before authentication: a denied request is answered without
// touching the token or the document store. Store failures deny; an
// unavailable counter never opens the limit.
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if config.Limiter == nil {
		config.Limiter = ratelimit.NewNoopLimiter()
	}
	if config.KeyFunc == nil {
		config.KeyFunc = ratelimit.IPKeyFunc
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.Audit == nil {
		config.Audit = audit.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = authz.GetSharedMetrics()
	}
	if config.Code == "" {
		config.Code = authz.CodeDocRateExceeded
	}

	return func(c *gin.Context) {
		start := time.Now()
		key := config.KeyFunc(c.Request)

		result, err := config.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			config.Logger.Warn("rate limit store unavailable, denying",
				observability.String("key", key),
				observability.Error(err),
			)
		}

		if result.Allowed {
			setRateLimitHeaders(c, result)
			c.Next()
			return
		}

		decision := authz.DenyRateLimited(config.Code)
		config.Metrics.RecordDecision(decision, time.Since(start))
		config.Audit.LogEvent(c.Request.Context(),
			audit.NewEvent(audit.EventTypeSecurity, audit.ActionRateLimitExceeded, audit.OutcomeDenied).
				WithStage(decision.Stage).
				WithCode(decision.Code).
				WithResource(&audit.Resource{
					Path:   c.Request.URL.Path,
					Method: c.Request.Method,
				}).
				WithMetadata("client_ip", c.ClientIP()),
		)

		setRateLimitHeaders(c, result)
		if result.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds()+1)))
		}
		c.AbortWithStatusJSON(decision.Status, gin.H{
			"error": decision.Reason,
			"code":  decision.Code,
		})
	}
}

func setRateLimitHeaders(c *gin.Context, result *ratelimit.Result) {
	if result == nil || result.Limit == 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
}
