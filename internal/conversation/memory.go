package conversation

import (
	"context"
	"sync"
)

// MemoryStore keeps associations in a map. State is lost on restart.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]string)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[key], nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, id string) error {
	if id == "" {
		return s.Reset(context.Background(), key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[key] = id
	return nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, key)
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
