// Package jwt provides bearer token verification and security attribute
// extraction for the document guard.
//
// This package implements token verification against a remote key
// directory (JWKS), restricted to asymmetric signing algorithms, and maps
// verified claims to the canonical UserAttributes set every downstream
// authorization component consumes.
//
// # Features
//
//   - Token extraction from Authorization and proxy fallback headers
//   - Key directory fetching with TTL caching, stale fallback, and
//     negative caching of unknown key ids
//   - Signature verification for the RSA, RSA-PSS, ECDSA, and Ed25519
//     families; "none" and HMAC are always rejected
//   - Clock skew tolerance for time-based claims
//   - Clearance-validated attribute mapping
//   - Prometheus metrics for verification and key resolution
//
// # Verification
//
// The Verifier interface verifies tokens and produces attributes:
//
//	verifier, err := jwt.NewVerifier(cfg, hierarchy)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	attrs, err := verifier.Verify(ctx, tokenString)
//	if err != nil {
//	    // Handle invalid token
//	}
package jwt
