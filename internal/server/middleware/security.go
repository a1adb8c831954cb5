package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// SecurityConfig holds configuration for the security headers middleware.
type SecurityConfig struct {
	HSTSEnabled           bool
	HSTSMaxAge            int
	HSTSIncludeSubDomains bool

	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	ReferrerPolicy        string
	CacheControl          string
}

// DefaultSecurityConfig returns a SecurityConfig with secure defaults.
// Cache-Control defaults to no-store: responses carry classified content.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		HSTSEnabled:           true,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubDomains: true,
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		CacheControl:          "no-store",
	}
}

// SecurityHeaders returns a middleware that adds security headers.
func SecurityHeaders() gin.HandlerFunc {
	return SecurityHeadersWithConfig(DefaultSecurityConfig())
}

// SecurityHeadersWithConfig returns a security headers middleware with
// custom configuration.
func SecurityHeadersWithConfig(config *SecurityConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultSecurityConfig()
	}

	var hstsValue string
	if config.HSTSEnabled {
		hstsValue = fmt.Sprintf("max-age=%d", config.HSTSMaxAge)
		if config.HSTSIncludeSubDomains {
			hstsValue += "; includeSubDomains"
		}
	}

	return func(c *gin.Context) {
		if hstsValue != "" {
			c.Header("Strict-Transport-Security", hstsValue)
		}
		if config.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", config.ContentSecurityPolicy)
		}
		if config.XFrameOptions != "" {
			c.Header("X-Frame-Options", config.XFrameOptions)
		}
		if config.XContentTypeOptions != "" {
			c.Header("X-Content-Type-Options", config.XContentTypeOptions)
		}
		if config.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}
		if config.CacheControl != "" {
			c.Header("Cache-Control", config.CacheControl)
		}

		c.Next()
	}
}
