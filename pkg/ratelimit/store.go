package ratelimit

import (
	"context"
	"sync"
)

// Store serializes read-modify-write access to bucket state.
//
// Update loads the state, passes a copy to fn and persists the copy only when
// fn returns nil. A state that was never written has a zero LastRefill.
type Store interface {
	Update(ctx context.Context, fn func(*BucketState) error) error
}

// MemoryStore keeps bucket state in process memory under a single mutex.
type MemoryStore struct {
	mu    sync.Mutex
	state BucketState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, fn func(*BucketState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state
	if err := fn(&next); err != nil {
		return err
	}
	m.state = next
	return nil
}
