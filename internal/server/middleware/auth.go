package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/docguard/internal/audit"
	"github.com/vyrodovalexey/docguard/internal/auth/jwt"
	"github.com/vyrodovalexey/docguard/internal/authz"
	"github.com/vyrodovalexey/docguard/internal/observability"
	"github.com/vyrodovalexey/docguard/internal/ratelimit"
)

// AuthConfig holds configuration for the authentication middleware.
type AuthConfig struct {
	// Verifier checks token signatures and claims.
	Verifier jwt.Verifier

	// Extractor pulls the token from the request. Defaults to the
	// Authorization bearer header with X-Access-Token fallback.
	Extractor jwt.TokenExtractor

	// AuthLimiter throttles authentication attempts per client. Every
	// attempt is counted up front; successful verifications are refunded,
	// so only failures accumulate against the limit.
	AuthLimiter ratelimit.Limiter

	// KeyFunc derives the attempt-limit key. Defaults to client IP.
	KeyFunc ratelimit.KeyFunc

	Logger  observability.Logger
	Audit   audit.Logger
	Metrics *authz.Metrics
}

// Auth returns a middleware that authenticates every request. The attempt
// limit is checked first: a throttled client is answered 429 before any
// token work. Verification failures are uniform 401s distinguished only
// by machine code. On success the verified attribute set is stored in the
// request context for the handlers.
func Auth(config AuthConfig) gin.HandlerFunc {
	if config.Extractor == nil {
		config.Extractor = jwt.DefaultExtractor()
	}
	if config.AuthLimiter == nil {
		config.AuthLimiter = ratelimit.NewNoopLimiter()
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

	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()
		key := config.KeyFunc(c.Request)

		result, err := config.AuthLimiter.Allow(ctx, key)
		if err != nil {
			config.Logger.Warn("auth attempt counter unavailable, denying",
				observability.String("key", key),
				observability.Error(err),
			)
		}
		if !result.Allowed {
			decision := authz.DenyRateLimited(authz.CodeAuthRateExceeded)
			recordAuthDecision(c, config, decision, nil, start)
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds()+1)))
			}
			c.AbortWithStatusJSON(decision.Status, gin.H{
				"error": decision.Reason,
				"code":  decision.Code,
			})
			return
		}

		token, err := config.Extractor.Extract(c.Request)
		if err == nil {
			var attrs *jwt.UserAttributes
			attrs, err = config.Verifier.Verify(ctx, token)
			if err == nil {
				// A successful authentication never counts against the
				// attempt limit.
				if refundErr := config.AuthLimiter.Refund(ctx, result); refundErr != nil {
					config.Logger.Warn("auth attempt refund failed",
						observability.String("key", key),
						observability.Error(refundErr),
					)
				}

				c.Request = c.Request.WithContext(jwt.ContextWithAttributes(ctx, attrs))
				c.Next()
				return
			}
		}

		config.Logger.Debug("authentication failed",
			observability.String("path", c.Request.URL.Path),
			observability.Error(err),
		)

		decision := authz.DenyUnauthenticated(err)
		recordAuthDecision(c, config, decision, err, start)
		c.AbortWithStatusJSON(decision.Status, gin.H{
			"error": decision.Reason,
			"code":  decision.Code,
		})
	}
}

func recordAuthDecision(c *gin.Context, config AuthConfig, decision *authz.Decision, cause error, start time.Time) {
	config.Metrics.RecordDecision(decision, time.Since(start))

	event := audit.NewEvent(audit.EventTypeAuthentication, audit.ActionTokenVerify, audit.OutcomeDenied).
		WithStage(decision.Stage).
		WithCode(decision.Code).
		WithResource(&audit.Resource{
			Path:   c.Request.URL.Path,
			Method: c.Request.Method,
		}).
		WithMetadata("client_ip", c.ClientIP())
	if cause != nil {
		event = event.WithReason(cause.Error())
	}
	config.Audit.LogEvent(c.Request.Context(), event)
}

// GetUserAttributes returns the verified attribute set stored by Auth.
func GetUserAttributes(c *gin.Context) (*jwt.UserAttributes, bool) {
	return jwt.AttributesFromContext(c.Request.Context())
}
