package storage

import (
	"context"
	"sync"
)

// MemoryStore implements Store with in-memory maps
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string][]byte // scope -> key -> value
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scopes: make(map[string]map[string][]byte),
	}
}

func (s *MemoryStore) Get(_ context.Context, scope, key string) ([]byte, error) {
	if err := validate(scope, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.scopes[scope][key]
	if !exists {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *MemoryStore) Set(_ context.Context, scope, key string, value []byte) error {
	if err := validate(scope, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, exists := s.scopes[scope]
	if !exists {
		keys = make(map[string][]byte)
		s.scopes[scope] = keys
	}
	keys[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, scope string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.scopes[scope]
	if !exists {
		return nil
	}
	for _, key := range keys {
		delete(stored, key)
	}
	if len(stored) == 0 {
		delete(s.scopes, scope)
	}
	return nil
}

// Len returns the number of keys stored for scope.
func (s *MemoryStore) Len(scope string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scopes[scope])
}

func (s *MemoryStore) Close() error {
	return nil
}
