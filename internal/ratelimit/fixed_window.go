package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/docguard/internal/observability"
	"github.com/vyrodovalexey/docguard/internal/ratelimit/store"
)

// ErrStoreUnavailable indicates that the counter store could not be
// consulted. Admission fails closed.
var ErrStoreUnavailable = errors.New("rate limit store is unavailable")

// Route class limits.
var (
	// DocumentLimit applies to document operations, per client IP.
	DocumentLimit = Limit{Requests: 100, Window: 15 * time.Minute}

	// AuthLimit applies to failed authentication attempts, per client IP.
	AuthLimit = Limit{Requests: 5, Window: 60 * time.Minute}
)

// FixedWindowLimiter implements fixed-window rate limiting over a shared
// counter store. The admission check is a single atomic increment, so
// concurrent requests across process instances cannot race past the limit.
// Store failures deny: an unreachable store never widens the limit.
type FixedWindowLimiter struct {
	store   store.Store
	limit   int
	window  time.Duration
	prefix  string
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

var _ Limiter = (*FixedWindowLimiter)(nil)

// NewFixedWindowLimiter creates a fixed window limiter with the given
// prefix separating its counters from other limiter instances.
func NewFixedWindowLimiter(
	s store.Store,
	prefix string,
	limit Limit,
	logger observability.Logger,
) *FixedWindowLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	l := &FixedWindowLimiter{
		store:  s,
		limit:  limit.Requests,
		window: limit.Window,
		prefix: prefix,
		logger: logger,
	}

	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-" + prefix,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("rate limit store breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return l
}

// NewDocumentLimiter creates the limiter for document operations.
func NewDocumentLimiter(s store.Store, logger observability.Logger) *FixedWindowLimiter {
	return NewFixedWindowLimiter(s, "doc:", DocumentLimit, logger)
}

// NewAuthLimiter creates the limiter for failed authentication attempts.
func NewAuthLimiter(s store.Store, logger observability.Logger) *FixedWindowLimiter {
	return NewFixedWindowLimiter(s, "auth:", AuthLimit, logger)
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter. The counter is incremented and checked in one
// atomic store operation.
func (l *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := l.windowStart(now)
	windowKey := l.windowKey(key, windowStart)

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	count, err := l.breaker.Execute(func() (interface{}, error) {
		// A second of slack keeps the counter alive across clock skew
		// between instances.
		return l.store.IncrementWithExpiry(ctx, windowKey, int64(n), l.window+time.Second)
	})
	if err != nil {
		l.logger.Error("rate limit store unavailable, denying request",
			observability.String("key", key),
			observability.Error(err),
		)
		return &Result{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			ResetAfter: resetAfter,
			RetryAfter: resetAfter,
		}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	current := count.(int64)
	allowed := current <= int64(l.limit)

	remaining := l.limit - int(current)
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
		WindowKey:  windowKey,
	}, nil
}

// Refund implements Limiter. The decrement targets the counter named in
// the result, so a refund issued after the window rolls over still lands
// in the window the admission was charged against. A counter that has
// already expired is left alone; decrementing it would seed a fresh key
// with no expiry and a negative count. The decrement is best effort; a
// failed refund costs the client one admission, never an extra one.
func (l *FixedWindowLimiter) Refund(ctx context.Context, result *Result) error {
	if result == nil || result.WindowKey == "" {
		return nil
	}

	_, err := l.breaker.Execute(func() (interface{}, error) {
		return l.store.DecrementIfExists(ctx, result.WindowKey)
	})
	if err != nil {
		l.logger.Warn("rate limit refund failed",
			observability.String("key", result.WindowKey),
			observability.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetLimit implements Limiter.
func (l *FixedWindowLimiter) GetLimit(key string) *Limit {
	return &Limit{
		Requests: l.limit,
		Window:   l.window,
	}
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	windowKey := l.windowKey(key, l.windowStart(time.Now()))
	if err := l.store.Delete(ctx, windowKey); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// windowStart returns the start of the fixed window containing t.
func (l *FixedWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// windowKey names the counter for one client in one window. The window
// start is encoded at nanosecond resolution so sub-second windows map to
// distinct counters.
func (l *FixedWindowLimiter) windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", l.prefix, key, windowStart.UnixNano())
}
