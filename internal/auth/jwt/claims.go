package jwt

import (
	"encoding/json"
	"strings"
	"time"
)

// Claims represents the decoded JWT payload. Standard claims are typed;
// everything else lands in Extra until the attribute mapping consumes it.
type Claims struct {
	Issuer    string   `json:"iss,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  Audience `json:"aud,omitempty"`
	ExpiresAt *Time    `json:"exp,omitempty"`
	NotBefore *Time    `json:"nbf,omitempty"`
	IssuedAt  *Time    `json:"iat,omitempty"`
	JWTID     string   `json:"jti,omitempty"`

	// Extra holds non-standard claims.
	Extra map[string]interface{} `json:"-"`
}

// Time is a wrapper around time.Time for JWT numeric date marshaling.
type Time struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	var timestamp float64
	if err := json.Unmarshal(data, &timestamp); err != nil {
		return err
	}
	t.Time = time.Unix(int64(timestamp), 0)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Unix())
}

// Audience represents the aud claim, which may be a string or an array.
type Audience []string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}

	var multiple []string
	if err := json.Unmarshal(data, &multiple); err != nil {
		return err
	}
	*a = Audience(multiple)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// Contains checks if the audience contains a specific value.
func (a Audience) Contains(aud string) bool {
	for _, v := range a {
		if v == aud {
			return true
		}
	}
	return false
}

// ContainsAny checks if the audience contains any of the specified values.
func (a Audience) ContainsAny(auds ...string) bool {
	for _, aud := range auds {
		if a.Contains(aud) {
			return true
		}
	}
	return false
}

// ValidWithSkew validates the time-based claims with clock skew tolerance.
func (c *Claims) ValidWithSkew(skew time.Duration) error {
	now := time.Now()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time.Add(skew)) {
		return ErrTokenExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Time.Add(-skew)) {
		return ErrTokenNotYetValid
	}

	return nil
}

// GetStringClaim returns a non-standard claim value as a string.
func (c *Claims) GetStringClaim(name string) string {
	if c.Extra == nil {
		return ""
	}
	if s, ok := c.Extra[name].(string); ok {
		return s
	}
	return ""
}

// GetStringSliceClaim returns a non-standard claim value as a string slice.
// Space-separated strings are split, matching common scope encoding.
func (c *Claims) GetStringSliceClaim(name string) []string {
	if c.Extra == nil {
		return nil
	}

	switch val := c.Extra[name].(type) {
	case []string:
		return val
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case string:
		return strings.Fields(val)
	default:
		return nil
	}
}

// ParseClaims parses claims from a decoded payload map.
func ParseClaims(data map[string]interface{}) *Claims {
	claims := &Claims{
		Extra: make(map[string]interface{}),
	}

	for key, value := range data {
		if !parseStandardClaim(claims, key, value) {
			claims.Extra[key] = value
		}
	}

	return claims
}

// parseStandardClaim fills a standard claim and reports whether key was one.
func parseStandardClaim(claims *Claims, key string, value interface{}) bool {
	switch key {
	case "iss":
		if s, ok := value.(string); ok {
			claims.Issuer = s
		}
		return true
	case "sub":
		if s, ok := value.(string); ok {
			claims.Subject = s
		}
		return true
	case "aud":
		claims.Audience = parseAudience(value)
		return true
	case "exp":
		claims.ExpiresAt = parseTime(value)
		return true
	case "nbf":
		claims.NotBefore = parseTime(value)
		return true
	case "iat":
		claims.IssuedAt = parseTime(value)
		return true
	case "jti":
		if s, ok := value.(string); ok {
			claims.JWTID = s
		}
		return true
	default:
		return false
	}
}

// parseAudience parses the audience claim.
func parseAudience(value interface{}) Audience {
	switch v := value.(type) {
	case string:
		return Audience{v}
	case []string:
		return Audience(v)
	case []interface{}:
		result := make(Audience, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}

// parseTime parses a numeric date from the formats json produces.
func parseTime(value interface{}) *Time {
	switch v := value.(type) {
	case float64:
		return &Time{Time: time.Unix(int64(v), 0)}
	case int64:
		return &Time{Time: time.Unix(v, 0)}
	case int:
		return &Time{Time: time.Unix(int64(v), 0)}
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return &Time{Time: time.Unix(i, 0)}
		}
	}
	return nil
}
