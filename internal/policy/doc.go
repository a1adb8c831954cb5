// Package policy evaluates document access against external policy
// engines. Every access decision is the AND of two or more independently
// addressed policy endpoints (the base release policy and the partner
// coalition policy), queried concurrently. Any endpoint error or timeout
// denies the request; the package never defaults to allow.
package policy
