package core

import (
	"context"
	"sync"
)

// Store persists the last merged snapshot of each device so that a restart
// starts from stale-but-present values instead of nothing.
type Store[T any] interface {
	// Load returns the stored value for address and whether one was found
	Load(ctx context.Context, address string) (T, bool, error)

	// Save replaces the stored value for address
	Save(ctx context.Context, address string, value T) error
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore[T any] struct {
	mu     sync.RWMutex
	values map[string]T
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{
		values: make(map[string]T),
	}
}

// Load returns the stored value for address
func (s *MemoryStore[T]) Load(ctx context.Context, address string) (T, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[address]
	return v, ok, nil
}

// Save replaces the stored value for address
func (s *MemoryStore[T]) Save(ctx context.Context, address string, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[address] = value
	return nil
}
