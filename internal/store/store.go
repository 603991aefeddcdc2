// Package store provides the content-addressed blob store backing snapshot
// persistence: a durable SQLite tier, an in-memory tier, and a layered
// write-through combination of the two. Writes of identical content are
// idempotent, so concurrent writers need no locking discipline beyond the
// store's own.
package store

import (
	"context"
	"sync"

	"wsgraph/internal/cas"
)

// ContentStore is the hash -> payload interface the graph core consumes.
// Put returns the deterministic content hash of the payload; writing the
// same payload twice is a no-op.
type ContentStore interface {
	Put(ctx context.Context, payload []byte) (cas.ContentHash, error)
	Get(ctx context.Context, hash cas.ContentHash) ([]byte, bool, error)
}

// MemStore is an in-memory content store, used as the hot cache tier and in
// tests.
type MemStore struct {
	mu      sync.RWMutex
	objects map[cas.ContentHash][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[cas.ContentHash][]byte)}
}

// Put stores a payload under its content hash.
func (s *MemStore) Put(_ context.Context, payload []byte) (cas.ContentHash, error) {
	hash := cas.HashBytes(payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[hash]; !ok {
		s.objects[hash] = append([]byte(nil), payload...)
	}
	return hash, nil
}

// Get retrieves a payload by hash.
func (s *MemStore) Get(_ context.Context, hash cas.ContentHash) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.objects[hash]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

// Len returns the number of stored objects.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
