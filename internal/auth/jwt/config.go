package jwt

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultClockSkew = 30 * time.Second
)

// defaultAlgorithms is the allow-list applied when none is configured.
// Only asymmetric algorithms are ever eligible.
var defaultAlgorithms = []string{AlgRS256}

// asymmetricAlgorithms enumerates every algorithm the verifier is able to
// accept. "none" and the HMAC family are rejected regardless of
// configuration.
var asymmetricAlgorithms = map[string]bool{
	AlgRS256: true,
	AlgRS384: true,
	AlgRS512: true,
	AlgPS256: true,
	AlgPS384: true,
	AlgPS512: true,
	AlgES256: true,
	AlgES384: true,
	AlgES512: true,
	AlgEdDSA: true,
}

// Config configures token verification.
type Config struct {
	// JWKSUrl is the key directory endpoint.
	JWKSUrl string `yaml:"jwksUrl" json:"jwksUrl"`

	// Algorithms is the list of allowed signing algorithms. Defaults to
	// RS256. Symmetric algorithms are rejected at validation time.
	Algorithms []string `yaml:"algorithms,omitempty" json:"algorithms,omitempty"`

	// Issuer is the expected token issuer. Empty skips the check.
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty"`

	// Audience is the set of acceptable audiences. Empty skips the check.
	Audience []string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// ClockSkew is the allowed clock skew for time-based claims.
	ClockSkew time.Duration `yaml:"clockSkew,omitempty" json:"clockSkew,omitempty"`

	// KeyCacheTTL is the freshness window for cached signing keys.
	KeyCacheTTL time.Duration `yaml:"keyCacheTTL,omitempty" json:"keyCacheTTL,omitempty"`

	// ClaimNames overrides the claim names the attribute mapping reads.
	ClaimNames *ClaimNames `yaml:"claimNames,omitempty" json:"claimNames,omitempty"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.JWKSUrl == "" {
		return fmt.Errorf("jwksUrl is required")
	}
	for _, alg := range c.Algorithms {
		if !asymmetricAlgorithms[alg] {
			return fmt.Errorf("algorithm %q is not an allowed asymmetric algorithm", alg)
		}
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("clockSkew must not be negative")
	}
	return nil
}

// GetEffectiveAlgorithms returns the configured allow-list or the default.
func (c *Config) GetEffectiveAlgorithms() []string {
	if len(c.Algorithms) == 0 {
		return defaultAlgorithms
	}
	return c.Algorithms
}

// GetEffectiveClockSkew returns the configured skew or the default.
func (c *Config) GetEffectiveClockSkew() time.Duration {
	if c.ClockSkew <= 0 {
		return DefaultClockSkew
	}
	return c.ClockSkew
}

// GetEffectiveKeyCacheTTL returns the configured TTL or the default.
func (c *Config) GetEffectiveKeyCacheTTL() time.Duration {
	if c.KeyCacheTTL <= 0 {
		return DefaultKeyCacheTTL
	}
	return c.KeyCacheTTL
}

// GetEffectiveClaimNames returns the configured claim names or the defaults.
func (c *Config) GetEffectiveClaimNames() ClaimNames {
	if c.ClaimNames == nil {
		return DefaultClaimNames()
	}
	names := DefaultClaimNames()
	if c.ClaimNames.Clearance != "" {
		names.Clearance = c.ClaimNames.Clearance
	}
	if c.ClaimNames.Country != "" {
		names.Country = c.ClaimNames.Country
	}
	if c.ClaimNames.COITags != "" {
		names.COITags = c.ClaimNames.COITags
	}
	if c.ClaimNames.LACVCode != "" {
		names.LACVCode = c.ClaimNames.LACVCode
	}
	if c.ClaimNames.Organization != "" {
		names.Organization = c.ClaimNames.Organization
	}
	return names
}
