package memory

import (
	"context"
	"sync"
)

// Store is an in-process KV. Its contents live as long as the process,
// which makes it the session-scoped store.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

func New() *Store { return &Store{data: make(map[string]string)} }

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Ready(context.Context) error { return nil }
