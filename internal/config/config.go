// Package config defines the YAML configuration surface of the document
// guard and its loading, validation and hot reload. Only the clearance
// table and the marking vocabularies reload at runtime; auth, policy and
// redis settings require a restart.
package config

import (
	"fmt"
	"time"

	"github.com/vyrodovalexey/docguard/internal/auth/jwt"
	"github.com/vyrodovalexey/docguard/internal/policy"
	ratestore "github.com/vyrodovalexey/docguard/internal/ratelimit/store"
)

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig           `yaml:"server"`
	Auth          jwt.Config             `yaml:"auth"`
	Policy        PolicyConfig           `yaml:"policy"`
	RateLimit     RateLimitConfig        `yaml:"rateLimit"`
	Redis         *ratestore.RedisConfig `yaml:"redis,omitempty"`
	Authorization AuthorizationConfig    `yaml:"authorization"`
	Clearance     ClearanceConfig        `yaml:"clearance"`
	Validation    ValidationConfig       `yaml:"validation"`
	DocumentStore DocumentStoreConfig    `yaml:"documentStore"`
	Logging       LoggingConfig          `yaml:"logging"`
	Audit         AuditConfig            `yaml:"audit"`
	Tracing       TracingConfig          `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address            string        `yaml:"address"`
	Port               int           `yaml:"port"`
	ReadTimeout        time.Duration `yaml:"readTimeout"`
	WriteTimeout       time.Duration `yaml:"writeTimeout"`
	IdleTimeout        time.Duration `yaml:"idleTimeout"`
	MaxHeaderBytes     int           `yaml:"maxHeaderBytes"`
	MaxRequestBodySize int64         `yaml:"maxRequestBodySize"`
}

// PolicyConfig configures the compound policy evaluation.
type PolicyConfig struct {
	Endpoints         []policy.Endpoint `yaml:"endpoints"`
	EvaluationTimeout time.Duration     `yaml:"evaluationTimeout"`

	// MandatoryAttributesPolicy is the policy path answering whether the
	// subject carries every mandatory attribute. It is queried against
	// the first endpoint before document creation.
	MandatoryAttributesPolicy string `yaml:"mandatoryAttributesPolicy"`
}

// LimitConfig is one route class limit.
type LimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// RateLimitConfig configures the two route classes.
type RateLimitConfig struct {
	Enabled  bool        `yaml:"enabled"`
	Document LimitConfig `yaml:"document"`
	Auth     LimitConfig `yaml:"auth"`
}

// AuthorizationConfig configures the guard.
type AuthorizationConfig struct {
	// ReducedAssuranceMutations skips policy evaluation on update and
	// delete, leaving only the clearance gate. Off by default.
	ReducedAssuranceMutations bool `yaml:"reducedAssuranceMutations"`
}

// ClearanceConfig carries the label-to-ordinal table. Hot reloadable.
type ClearanceConfig struct {
	Levels map[string]int `yaml:"levels"`
}

// ValidationConfig carries the marking vocabularies. Hot reloadable.
type ValidationConfig struct {
	ReleasableTo []string `yaml:"releasableTo"`
	COITags      []string `yaml:"coiTags"`
	LACVCodes    []string `yaml:"lacvCodes"`
}

// DocumentStoreConfig selects the document repository backend.
type DocumentStoreConfig struct {
	// Type is "memory" or "http".
	Type string `yaml:"type"`

	// URL is the backend base URL for the http type.
	URL string `yaml:"url,omitempty"`

	// Headers are sent with every backend request.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// LoggingConfig configures the operational logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuditConfig configures the audit trail sink.
type AuditConfig struct {
	// Output is "stdout", "stderr" or a file path.
	Output string `yaml:"output"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// DefaultConfig returns the configuration used when a field is absent.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8443,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			IdleTimeout:        120 * time.Second,
			MaxHeaderBytes:     1 << 20,
			MaxRequestBodySize: 1 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Document: LimitConfig{Requests: 100, Window: 15 * time.Minute},
			Auth:     LimitConfig{Requests: 5, Window: time.Hour},
		},
		Policy: PolicyConfig{
			MandatoryAttributesPolicy: "access_policy/user_has_mandatory_attrs",
		},
		DocumentStore: DocumentStoreConfig{Type: "memory"},
		Logging:       LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Audit:         AuditConfig{Output: "stdout"},
		Tracing:       TracingConfig{ServiceName: "docguard", SamplingRate: 1.0},
	}
}

// applyDefaults fills zero fields from DefaultConfig.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaults.Server.IdleTimeout
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = defaults.Server.MaxHeaderBytes
	}
	if c.Server.MaxRequestBodySize == 0 {
		c.Server.MaxRequestBodySize = defaults.Server.MaxRequestBodySize
	}
	if c.RateLimit.Document.Requests == 0 {
		c.RateLimit.Document = defaults.RateLimit.Document
	}
	if c.RateLimit.Auth.Requests == 0 {
		c.RateLimit.Auth = defaults.RateLimit.Auth
	}
	if c.Policy.MandatoryAttributesPolicy == "" {
		c.Policy.MandatoryAttributesPolicy = defaults.Policy.MandatoryAttributesPolicy
	}
	if c.DocumentStore.Type == "" {
		c.DocumentStore.Type = defaults.DocumentStore.Type
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaults.Logging.Output
	}
	if c.Audit.Output == "" {
		c.Audit.Output = defaults.Audit.Output
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = defaults.Tracing.SamplingRate
	}
}

// Validate checks the configuration for startup errors.
func Validate(c *Config) error {
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	if len(c.Policy.Endpoints) < 2 {
		return fmt.Errorf("policy: at least two endpoints are required, got %d", len(c.Policy.Endpoints))
	}
	names := make(map[string]bool, len(c.Policy.Endpoints))
	for _, endpoint := range c.Policy.Endpoints {
		if err := endpoint.Validate(); err != nil {
			return fmt.Errorf("policy endpoint %q: %w", endpoint.Name, err)
		}
		if names[endpoint.Name] {
			return fmt.Errorf("policy: duplicate endpoint name %q", endpoint.Name)
		}
		names[endpoint.Name] = true
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Document.Requests <= 0 || c.RateLimit.Document.Window <= 0 {
			return fmt.Errorf("rateLimit.document: requests and window must be positive")
		}
		if c.RateLimit.Auth.Requests <= 0 || c.RateLimit.Auth.Window <= 0 {
			return fmt.Errorf("rateLimit.auth: requests and window must be positive")
		}
	}

	switch c.DocumentStore.Type {
	case "memory":
	case "http":
		if c.DocumentStore.URL == "" {
			return fmt.Errorf("documentStore: url is required for the http type")
		}
	default:
		return fmt.Errorf("documentStore: unknown type %q", c.DocumentStore.Type)
	}

	if c.Redis != nil && c.Redis.Address == "" {
		return fmt.Errorf("redis: address is required")
	}

	return nil
}
