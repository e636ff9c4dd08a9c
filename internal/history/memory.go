package history

import (
	"context"
	"slices"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps history in process memory. Contents are lost on restart.
type MemoryStore struct {
	limit int

	mu    sync.RWMutex
	lists map[string][]Entry
}

// NewMemoryStore creates an empty store. A positive limit caps each list,
// dropping the oldest entries.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{limit: limit, lists: make(map[string][]Entry)}
}

// List implements [Store].
func (s *MemoryStore) List(_ context.Context, key string) ([]Entry, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := slices.Clone(s.lists[key])
	if list == nil {
		list = []Entry{}
	}
	return list, nil
}

// Add implements [Store].
func (s *MemoryStore) Add(_ context.Context, key string, e Entry) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = Prepend(s.lists[key], e, s.limit)
	return nil
}

// Clear implements [Store].
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key)
	return nil
}
