package policy

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for policy evaluation.
var (
	// ErrPolicyDenied indicates that at least one policy endpoint denied.
	ErrPolicyDenied = errors.New("access denied by policy")

	// ErrPolicyUnavailable indicates that a policy endpoint could not be
	// queried. Evaluation fails closed.
	ErrPolicyUnavailable = errors.New("policy endpoint unavailable")

	// ErrMissingAttributes indicates that mandatory subject attributes
	// are absent.
	ErrMissingAttributes = errors.New("mandatory user attributes are missing")
)

// EndpointError wraps a failure from a single policy endpoint.
type EndpointError struct {
	Endpoint string
	Cause    error
}

// Error implements the error interface.
func (e *EndpointError) Error() string {
	return fmt.Sprintf("policy endpoint %s: %v", e.Endpoint, e.Cause)
}

// Unwrap returns the underlying error.
func (e *EndpointError) Unwrap() error {
	return e.Cause
}

// MissingAttributesError lists the absent mandatory attributes.
type MissingAttributesError struct {
	Missing []string
}

// Error implements the error interface.
func (e *MissingAttributesError) Error() string {
	if len(e.Missing) == 0 {
		return ErrMissingAttributes.Error()
	}
	return fmt.Sprintf("mandatory user attributes are missing: %s", strings.Join(e.Missing, ", "))
}

// Is reports whether target is ErrMissingAttributes.
func (e *MissingAttributesError) Is(target error) bool {
	return target == ErrMissingAttributes
}
