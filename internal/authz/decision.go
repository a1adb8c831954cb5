// Package authz decides whether a verified subject may perform an
// operation on a document. It composes the external policy verdicts, the
// local clearance gate, and the document lookup into a single
// AuthorizationDecision per request.
package authz

import (
	"errors"
	"net/http"

	"github.com/vyrodovalexey/docguard/internal/auth/jwt"
)

// Chain stages, in evaluation order.
const (
	StageRateLimit      = "ratelimit"
	StageAuthentication = "authentication"
	StageValidation     = "validation"
	StageResource       = "resource"
	StagePolicy         = "policy"
	StageClearance      = "clearance"
	StageHandler        = "handler"
)

// Machine codes returned in JSON error bodies. Stable across releases;
// clients and dashboards key on them.
const (
	CodeNoToken           = "AUTH001"
	CodeTokenInvalid      = "AUTH002"
	CodeSigningKey        = "AUTH011"
	CodeTokenMalformed    = "AUTH012"
	CodeAttributesInvalid = "AUTH013"

	CodeDocRateExceeded  = "RATE001"
	CodeAuthRateExceeded = "RATE002"

	CodeMissingAttributes = "VAL001"
	CodeInvalidField      = "VAL002"

	CodePolicyDenied          = "ACCESS001"
	CodeInsufficientClearance = "ACCESS002"

	CodeDocumentNotFound = "DOC404"

	CodeInternal = "SYS001"
)

// Decision is the single authorization outcome of a request. Exactly one
// Decision is recorded per request, whatever stage produced it.
type Decision struct {
	// Allow indicates whether the request proceeds.
	Allow bool

	// Stage is the chain stage that decided.
	Stage string

	// Code is the machine code for denials.
	Code string

	// Status is the HTTP status the server boundary translates to.
	Status int

	// Reason is a short operator-facing explanation. Raw internal error
	// detail is logged, never carried here.
	Reason string
}

// Allowed builds an allow decision for the given stage.
func Allowed(stage string) *Decision {
	return &Decision{Allow: true, Stage: stage, Status: http.StatusOK}
}

// DenyRateLimited builds the 429 decision for the given code.
func DenyRateLimited(code string) *Decision {
	return &Decision{
		Allow:  false,
		Stage:  StageRateLimit,
		Code:   code,
		Status: http.StatusTooManyRequests,
		Reason: "rate limit exceeded",
	}
}

// DenyUnauthenticated builds the 401 decision for a verification failure.
// The code distinguishes failure kinds for operators while the status
// stays a uniform 401.
func DenyUnauthenticated(err error) *Decision {
	return &Decision{
		Allow:  false,
		Stage:  StageAuthentication,
		Code:   CodeForAuthError(err),
		Status: http.StatusUnauthorized,
		Reason: "authentication failed",
	}
}

// DenyValidation builds the 400 decision for invalid input.
func DenyValidation(code, reason string) *Decision {
	return &Decision{
		Allow:  false,
		Stage:  StageValidation,
		Code:   code,
		Status: http.StatusBadRequest,
		Reason: reason,
	}
}

// DenyNotFound builds the 404 decision. Only reachable after successful
// authentication; unauthenticated callers get 401 before any lookup.
func DenyNotFound() *Decision {
	return &Decision{
		Allow:  false,
		Stage:  StageResource,
		Code:   CodeDocumentNotFound,
		Status: http.StatusNotFound,
		Reason: "document not found",
	}
}

// DenyPolicy builds the 403 decision for a policy denial or failure.
func DenyPolicy(reason string) *Decision {
	if reason == "" {
		reason = "access denied by policy"
	}
	return &Decision{
		Allow:  false,
		Stage:  StagePolicy,
		Code:   CodePolicyDenied,
		Status: http.StatusForbidden,
		Reason: reason,
	}
}

// DenyClearance builds the 403 decision for the local clearance gate.
func DenyClearance() *Decision {
	return &Decision{
		Allow:  false,
		Stage:  StageClearance,
		Code:   CodeInsufficientClearance,
		Status: http.StatusForbidden,
		Reason: "insufficient clearance",
	}
}

// DenyInternal builds the 500 decision for unexpected failures.
func DenyInternal(stage string) *Decision {
	return &Decision{
		Allow:  false,
		Stage:  stage,
		Code:   CodeInternal,
		Status: http.StatusInternalServerError,
		Reason: "internal error",
	}
}

// CodeForAuthError maps a verification error to its machine code.
func CodeForAuthError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrNoToken):
		return CodeNoToken
	case errors.Is(err, jwt.ErrUnknownKeyID),
		errors.Is(err, jwt.ErrKeyDirectoryUnavailable),
		errors.Is(err, jwt.ErrInvalidKey):
		return CodeSigningKey
	case errors.Is(err, jwt.ErrTokenMalformed):
		return CodeTokenMalformed
	// Disallowed algorithms unwrap to the signature-invalid kind.
	case errors.Is(err, jwt.ErrTokenInvalidSignature):
		return CodeTokenInvalid
	case errors.Is(err, jwt.ErrMissingSubject),
		errors.Is(err, jwt.ErrUnrecognizedClearance):
		return CodeAttributesInvalid
	default:
		return CodeTokenInvalid
	}
}
