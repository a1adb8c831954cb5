package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
server:
  port: 9443
auth:
  jwksUrl: https://idp.example.com/jwks
  issuer: https://idp.example.com
  audience:
    - docguard
policy:
  endpoints:
    - name: base
      url: https://opa-base.example.com/v1/data/docs/allow
    - name: partner
      url: https://opa-partner.example.com/v1/data/partner/allow
clearance:
  levels:
    "NATO UNCLASSIFIED": 0
    "NATO RESTRICTED": 1
    "NATO CONFIDENTIAL": 2
    "NATO SECRET": 3
    "COSMIC TOP SECRET": 4
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfigFile(t, validConfigYAML))
		require.NoError(t, err)

		assert.Equal(t, 9443, cfg.Server.Port)
		assert.Equal(t, "https://idp.example.com/jwks", cfg.Auth.JWKSUrl)
		assert.Len(t, cfg.Policy.Endpoints, 2)
		assert.Equal(t, 3, cfg.Clearance.Levels["NATO SECRET"])

		require.NoError(t, Validate(cfg))
	})

	t.Run("defaults applied", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfigFile(t, "server:\n  address: 127.0.0.1\n"))
		require.NoError(t, err)

		assert.Equal(t, 8443, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 100, cfg.RateLimit.Document.Requests)
		assert.Equal(t, 5, cfg.RateLimit.Auth.Requests)
		assert.Equal(t, time.Hour, cfg.RateLimit.Auth.Window)
		assert.Equal(t, "memory", cfg.DocumentStore.Type)
		assert.Equal(t, "access_policy/user_has_mandatory_attrs", cfg.Policy.MandatoryAttributesPolicy)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "stdout", cfg.Audit.Output)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfigFile(t, "server: [unclosed"))
		assert.Error(t, err)
	})
}

func TestLoadConfigFromReader(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(validConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, 9443, cfg.Server.Port)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("DOCGUARD_TEST_JWKS", "https://keys.example.com/jwks")
	os.Unsetenv("DOCGUARD_TEST_ABSENT")

	t.Run("set variable", func(t *testing.T) {
		out := substituteEnvVars("jwksUrl: ${DOCGUARD_TEST_JWKS}")
		assert.Equal(t, "jwksUrl: https://keys.example.com/jwks", out)
	})

	t.Run("default for unset variable", func(t *testing.T) {
		out := substituteEnvVars("issuer: ${DOCGUARD_TEST_ABSENT:-https://fallback.example.com}")
		assert.Equal(t, "issuer: https://fallback.example.com", out)
	})

	t.Run("unset variable without default becomes empty", func(t *testing.T) {
		out := substituteEnvVars("issuer: ${DOCGUARD_TEST_ABSENT}")
		assert.Equal(t, "issuer: ", out)
	})

	t.Run("escaped dollar", func(t *testing.T) {
		out := substituteEnvVars("password: $${not_a_var}")
		assert.Equal(t, "password: ${not_a_var}", out)
	})

	t.Run("set variable overrides default", func(t *testing.T) {
		out := substituteEnvVars("jwksUrl: ${DOCGUARD_TEST_JWKS:-https://fallback.example.com}")
		assert.Equal(t, "jwksUrl: https://keys.example.com/jwks", out)
	})
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Helper()
		cfg, err := LoadConfigFromReader(strings.NewReader(validConfigYAML))
		require.NoError(t, err)
		return cfg
	}

	t.Run("missing jwks url", func(t *testing.T) {
		cfg := base(t)
		cfg.Auth.JWKSUrl = ""
		assert.ErrorContains(t, Validate(cfg), "jwksUrl")
	})

	t.Run("symmetric algorithm rejected", func(t *testing.T) {
		cfg := base(t)
		cfg.Auth.Algorithms = []string{"HS256"}
		assert.ErrorContains(t, Validate(cfg), "HS256")
	})

	t.Run("single policy endpoint rejected", func(t *testing.T) {
		cfg := base(t)
		cfg.Policy.Endpoints = cfg.Policy.Endpoints[:1]
		assert.ErrorContains(t, Validate(cfg), "at least two endpoints")
	})

	t.Run("duplicate policy endpoint names", func(t *testing.T) {
		cfg := base(t)
		cfg.Policy.Endpoints[1].Name = cfg.Policy.Endpoints[0].Name
		assert.ErrorContains(t, Validate(cfg), "duplicate endpoint name")
	})

	t.Run("zero rate limit while enabled", func(t *testing.T) {
		cfg := base(t)
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.Document.Requests = 0
		assert.ErrorContains(t, Validate(cfg), "rateLimit.document")
	})

	t.Run("unknown store type", func(t *testing.T) {
		cfg := base(t)
		cfg.DocumentStore.Type = "ldap"
		assert.ErrorContains(t, Validate(cfg), "unknown type")
	})

	t.Run("http store without url", func(t *testing.T) {
		cfg := base(t)
		cfg.DocumentStore.Type = "http"
		cfg.DocumentStore.URL = ""
		assert.ErrorContains(t, Validate(cfg), "url is required")
	})
}
