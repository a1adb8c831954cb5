package jwt

import (
	"errors"
	"fmt"
)

// JWT signing algorithm constants. Only asymmetric signature algorithms are
// ever accepted; the HMAC and "none" families exist here so they can be
// named in rejections.
const (
	AlgRS256 = "RS256"
	AlgRS384 = "RS384"
	AlgRS512 = "RS512"
	AlgPS256 = "PS256"
	AlgPS384 = "PS384"
	AlgPS512 = "PS512"
	AlgES256 = "ES256"
	AlgES384 = "ES384"
	AlgES512 = "ES512"
	AlgEdDSA = "EdDSA"
	AlgNone  = "none"
)

// Sentinel errors for token verification. Each failure path keeps its own
// kind; the HTTP layer may generalize the response, but operators need the
// distinction for triage.
var (
	// ErrNoToken indicates that no bearer token was presented.
	ErrNoToken = errors.New("no token provided")

	// ErrTokenMalformed indicates that the token structure could not be parsed.
	ErrTokenMalformed = errors.New("token is malformed")

	// ErrUnknownKeyID indicates that the key directory has no key for the
	// token's kid header.
	ErrUnknownKeyID = errors.New("signing key id is unknown")

	// ErrTokenInvalidSignature indicates that the token signature is invalid
	// or uses a disallowed algorithm.
	ErrTokenInvalidSignature = errors.New("token signature is invalid")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenNotYetValid indicates that the token is not yet valid.
	ErrTokenNotYetValid = errors.New("token is not yet valid")

	// ErrTokenInvalidAudience indicates that the token audience does not
	// match the configured audience.
	ErrTokenInvalidAudience = errors.New("token audience is invalid")

	// ErrTokenInvalidIssuer indicates that the token issuer does not match
	// the configured issuer.
	ErrTokenInvalidIssuer = errors.New("token issuer is invalid")

	// ErrUnsupportedAlgorithm indicates a signing algorithm outside the
	// asymmetric allow-list, including "none" and the HMAC family. It is
	// a signature-invalid kind: a token signed with a disallowed
	// algorithm carries no acceptable signature.
	ErrUnsupportedAlgorithm = fmt.Errorf("%w: signing algorithm is not allowed", ErrTokenInvalidSignature)

	// ErrMissingSubject indicates a verified token without a subject claim.
	ErrMissingSubject = errors.New("subject claim is missing")

	// ErrUnrecognizedClearance indicates that the clearance claim is not a
	// member of the configured hierarchy.
	ErrUnrecognizedClearance = errors.New("clearance claim is not a recognized level")

	// ErrInvalidKey indicates that resolved key material is unusable.
	ErrInvalidKey = errors.New("signing key is invalid")

	// ErrKeyDirectoryUnavailable indicates that the key directory could not
	// be reached and no cached key was available.
	ErrKeyDirectoryUnavailable = errors.New("key directory is unavailable")
)

// VerificationError wraps a verification failure with context while
// preserving the sentinel kind for errors.Is.
type VerificationError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token verification: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("token verification: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// NewVerificationError creates a new VerificationError.
func NewVerificationError(message string, cause error) *VerificationError {
	return &VerificationError{Message: message, Cause: cause}
}

// KeyResolutionError represents a failure to resolve a signing key.
type KeyResolutionError struct {
	KeyID   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *KeyResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("key resolution (kid=%s): %s: %v", e.KeyID, e.Message, e.Cause)
	}
	return fmt.Sprintf("key resolution (kid=%s): %s", e.KeyID, e.Message)
}

// Unwrap returns the underlying error.
func (e *KeyResolutionError) Unwrap() error {
	return e.Cause
}

// NewKeyResolutionError creates a new KeyResolutionError.
func NewKeyResolutionError(keyID, message string, cause error) *KeyResolutionError {
	return &KeyResolutionError{KeyID: keyID, Message: message, Cause: cause}
}

// IsAuthError reports whether the error is one of the verification kinds,
// as opposed to an infrastructure failure.
func IsAuthError(err error) bool {
	for _, kind := range []error{
		ErrNoToken,
		ErrTokenMalformed,
		ErrUnknownKeyID,
		ErrTokenInvalidSignature,
		ErrTokenExpired,
		ErrTokenNotYetValid,
		ErrTokenInvalidAudience,
		ErrTokenInvalidIssuer,
		ErrUnsupportedAlgorithm,
		ErrMissingSubject,
		ErrUnrecognizedClearance,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
