package jwt

import (
	"net/http"
	"strings"
)

// TokenExtractor extracts a raw token from an HTTP request.
type TokenExtractor interface {
	// Extract returns the raw token, or ErrNoToken when none is present.
	Extract(r *http.Request) (string, error)
}

// HeaderExtractor reads the Authorization header with a Bearer prefix and
// falls back to a proxy-injected access token header.
type HeaderExtractor struct {
	header         string
	prefix         string
	fallbackHeader string
}

// NewHeaderExtractor creates an extractor. Empty arguments select the
// Authorization header with the "Bearer " prefix and the X-Access-Token
// fallback set by the fronting proxy.
func NewHeaderExtractor(header, prefix, fallbackHeader string) *HeaderExtractor {
	if header == "" {
		header = "Authorization"
	}
	if prefix == "" {
		prefix = "Bearer "
	}
	if fallbackHeader == "" {
		fallbackHeader = "X-Access-Token"
	}
	return &HeaderExtractor{
		header:         header,
		prefix:         prefix,
		fallbackHeader: fallbackHeader,
	}
}

// DefaultExtractor returns the extractor used by the document API.
func DefaultExtractor() *HeaderExtractor {
	return NewHeaderExtractor("", "", "")
}

// Extract implements TokenExtractor.
func (e *HeaderExtractor) Extract(r *http.Request) (string, error) {
	if auth := r.Header.Get(e.header); auth != "" {
		if len(auth) >= len(e.prefix) && strings.EqualFold(auth[:len(e.prefix)], e.prefix) {
			token := strings.TrimSpace(auth[len(e.prefix):])
			if token != "" {
				return token, nil
			}
		}
		return "", NewVerificationError("authorization header is not a bearer token", ErrNoToken)
	}

	if token := strings.TrimSpace(r.Header.Get(e.fallbackHeader)); token != "" {
		return token, nil
	}

	return "", ErrNoToken
}
