package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-instance
// development runs.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*Document),
	}
}

// FindByID implements Store.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, NewStoreError("find", id, ErrNotFound)
	}
	copied := *doc
	return &copied, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*Document, 0, len(s.docs))
	for _, doc := range s.docs {
		copied := *doc
		docs = append(docs, &copied)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, doc *Document) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *doc
	if copied.ID == "" {
		copied.ID = uuid.NewString()
	}
	now := time.Now()
	copied.CreatedAt = now
	copied.UpdatedAt = now
	s.docs[copied.ID] = &copied

	result := copied
	return &result, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, id string, doc *Document) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.docs[id]
	if !ok {
		return nil, NewStoreError("update", id, ErrNotFound)
	}

	copied := *doc
	copied.ID = id
	copied.CreatedAt = existing.CreatedAt
	copied.UpdatedAt = time.Now()
	s.docs[id] = &copied

	result := copied
	return &result, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return NewStoreError("delete", id, ErrNotFound)
	}
	delete(s.docs, id)
	return nil
}
