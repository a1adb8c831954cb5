package store

import (
	"context"
	"sync"
	"time"
)

// entry is a stored counter with its expiration.
type entry struct {
	value      int64
	expiration time.Time
}

// MemoryStore implements Store in process memory. Counters are not shared
// across instances; use the Redis store for multi-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]*entry
	cleanup *time.Ticker
	done    chan struct{}
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates a store with a custom cleanup
// interval for expired counters.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		data:    make(map[string]*entry),
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}
	go s.runCleanup()
	return s
}

func (s *MemoryStore) runCleanup() {
	for {
		select {
		case <-s.done:
			return
		case <-s.cleanup.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.data {
				if !e.expiration.IsZero() && now.After(e.expiration) {
					delete(s.data, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// live returns the entry for key if present and unexpired, pruning it
// otherwise. Callers hold the lock.
func (s *MemoryStore) live(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if !e.expiration.IsZero() && time.Now().After(e.expiration) {
		delete(s.data, key)
		return nil
	}
	return e
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, &ErrKeyNotFound{Key: key}
	}
	return e.value, nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &entry{}
		s.data[key] = e
	}
	e.value += delta
	return e.value, nil
}

// DecrementIfExists implements Store.
func (s *MemoryStore) DecrementIfExists(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	e.value--
	return e.value, nil
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &entry{}
		if expiration > 0 {
			e.expiration = time.Now().Add(expiration)
		}
		s.data[key] = e
	}
	e.value += delta
	return e.value, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cleanup.Stop()
	close(s.done)
	return nil
}
