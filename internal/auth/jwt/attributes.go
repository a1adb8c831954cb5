package jwt

import (
	"context"

	"github.com/vyrodovalexey/docguard/internal/clearance"
)

// UserAttributes is the canonical, strongly typed security attribute set
// derived once per request from a verified token. Downstream components
// never read raw claim maps.
type UserAttributes struct {
	// UniqueIdentifier is the subject identifier. Always non-empty.
	UniqueIdentifier string `json:"uniqueIdentifier"`

	// Clearance is a recognized member of the clearance hierarchy.
	Clearance string `json:"clearance"`

	// CountryOfAffiliation is the subject's nationality code.
	CountryOfAffiliation string `json:"countryOfAffiliation"`

	// COITags are community-of-interest markers. May be empty.
	COITags []string `json:"coiTags"`

	// LACVCode is an optional compartment code.
	LACVCode string `json:"lacvCode,omitempty"`

	// OrganizationalAffiliation is optional.
	OrganizationalAffiliation string `json:"organizationalAffiliation,omitempty"`
}

// ClaimNames maps attribute fields to the claim names carrying them.
type ClaimNames struct {
	Clearance    string `yaml:"clearance"`
	Country      string `yaml:"country"`
	COITags      string `yaml:"coiTags"`
	LACVCode     string `yaml:"lacvCode"`
	Organization string `yaml:"organization"`
}

// DefaultClaimNames returns the claim names the token issuer emits.
func DefaultClaimNames() ClaimNames {
	return ClaimNames{
		Clearance:    "clearance",
		Country:      "countryOfAffiliation",
		COITags:      "coiTags",
		LACVCode:     "lacvCode",
		Organization: "organizationalAffiliation",
	}
}

// AttributesFromClaims maps verified claims to UserAttributes. The clearance
// claim must be a recognized member of the hierarchy; unrecognized values
// are rejected, never silently defaulted.
func AttributesFromClaims(claims *Claims, names ClaimNames, hierarchy *clearance.Hierarchy) (*UserAttributes, error) {
	if claims.Subject == "" {
		return nil, NewVerificationError("token has no subject", ErrMissingSubject)
	}

	level := claims.GetStringClaim(names.Clearance)
	if level == "" || !hierarchy.Recognized(level) {
		return nil, NewVerificationError("clearance claim "+quote(level), ErrUnrecognizedClearance)
	}

	attrs := &UserAttributes{
		UniqueIdentifier:          claims.Subject,
		Clearance:                 level,
		CountryOfAffiliation:      claims.GetStringClaim(names.Country),
		COITags:                   claims.GetStringSliceClaim(names.COITags),
		LACVCode:                  claims.GetStringClaim(names.LACVCode),
		OrganizationalAffiliation: claims.GetStringClaim(names.Organization),
	}
	if attrs.COITags == nil {
		attrs.COITags = []string{}
	}

	return attrs, nil
}

// HasCOITag reports whether the subject carries the given COI marker.
func (u *UserAttributes) HasCOITag(tag string) bool {
	for _, t := range u.COITags {
		if t == tag {
			return true
		}
	}
	return false
}

// AttributesContextKey is the context key for the verified attribute set.
type AttributesContextKey struct{}

// ContextWithAttributes stores the verified attribute set in the context.
func ContextWithAttributes(ctx context.Context, attrs *UserAttributes) context.Context {
	return context.WithValue(ctx, AttributesContextKey{}, attrs)
}

// AttributesFromContext returns the verified attribute set, if present.
func AttributesFromContext(ctx context.Context) (*UserAttributes, bool) {
	attrs, ok := ctx.Value(AttributesContextKey{}).(*UserAttributes)
	return attrs, ok
}

func quote(s string) string {
	if s == "" {
		return "is missing"
	}
	return "\"" + s + "\" is not recognized"
}
