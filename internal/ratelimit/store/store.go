// Package store provides counter storage backends for rate limiting.
package store

import (
	"context"
	"time"
)

// Store is an atomic counter store shared by rate limiter instances.
type Store interface {
	// Get retrieves the value for the given key.
	Get(ctx context.Context, key string) (int64, error)

	// Increment increments the value for the given key by delta. Negative
	// deltas decrement, which the auth limiter uses to refund successes.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// IncrementWithExpiry atomically increments the value and sets the
	// expiration when the key is new. This is the one operation the
	// window admission check relies on; it must not be a read-modify-write.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// DecrementIfExists decrements the value only when the key is still
	// present. A missing or expired key is left untouched and 0 is
	// returned, so a late refund never resurrects a counter without an
	// expiration.
	DecrementIfExists(ctx context.Context, key string) (int64, error)

	// Delete removes the key from the store.
	Delete(ctx context.Context, key string) error

	// Close closes the store and releases resources.
	Close() error
}

// ErrKeyNotFound is returned when a key is not found in the store.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "key not found: " + e.Key
}

// IsKeyNotFound returns true if the error is a key not found error.
func IsKeyNotFound(err error) bool {
	_, ok := err.(*ErrKeyNotFound)
	return ok
}
