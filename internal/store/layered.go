package store

import (
	"context"
	"errors"
	"time"

	"wsgraph/internal/cas"
)

// ErrNoHeadTier is returned from the head-pointer methods when the durable
// tier does not track head pointers.
var ErrNoHeadTier = errors.New("durable tier does not track head pointers")

// headTier is the head-pointer surface a durable tier may offer.
type headTier interface {
	Head(ctx context.Context, workspace, changeSet string) (cas.ContentHash, error)
	CompareAndSwapHead(ctx context.Context, workspace, changeSet string, expected, next cas.ContentHash) error
}

// LayeredStore is a write-through memory tier over a durable tier. Reads
// hit memory first; GetWait can block briefly for a write racing through
// another goroutine to land in the memory tier before falling back to
// durable storage.
type LayeredStore struct {
	hot     *MemStore
	durable ContentStore
}

// NewLayeredStore stacks a fresh memory tier on a durable tier.
func NewLayeredStore(durable ContentStore) *LayeredStore {
	return &LayeredStore{hot: NewMemStore(), durable: durable}
}

// Put writes through: durable first, then the memory tier. A crash between
// the two leaves the durable tier authoritative.
func (s *LayeredStore) Put(ctx context.Context, payload []byte) (cas.ContentHash, error) {
	hash, err := s.durable.Put(ctx, payload)
	if err != nil {
		return cas.NilHash, err
	}
	if _, err := s.hot.Put(ctx, payload); err != nil {
		return cas.NilHash, err
	}
	return hash, nil
}

// Get reads the memory tier first and falls back to durable, warming the
// memory tier on a durable hit.
func (s *LayeredStore) Get(ctx context.Context, hash cas.ContentHash) ([]byte, bool, error) {
	if payload, ok, err := s.hot.Get(ctx, hash); err != nil || ok {
		return payload, ok, err
	}
	payload, ok, err := s.durable.Get(ctx, hash)
	if err != nil || !ok {
		return nil, ok, err
	}
	if _, err := s.hot.Put(ctx, payload); err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Head resolves a change set's head pointer through the durable tier. Head
// pointers are mutable, so the memory tier never caches them.
func (s *LayeredStore) Head(ctx context.Context, workspace, changeSet string) (cas.ContentHash, error) {
	h, ok := s.durable.(headTier)
	if !ok {
		return cas.NilHash, ErrNoHeadTier
	}
	return h.Head(ctx, workspace, changeSet)
}

// CompareAndSwapHead advances a head pointer through the durable tier.
func (s *LayeredStore) CompareAndSwapHead(ctx context.Context, workspace, changeSet string, expected, next cas.ContentHash) error {
	h, ok := s.durable.(headTier)
	if !ok {
		return ErrNoHeadTier
	}
	return h.CompareAndSwapHead(ctx, workspace, changeSet, expected, next)
}

// GetWait polls the memory tier until the payload appears or the wait
// expires, then falls back to Get. It serves readers chasing a write that
// is known to be in flight.
func (s *LayeredStore) GetWait(ctx context.Context, hash cas.ContentHash, wait time.Duration) ([]byte, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		payload, ok, err := s.hot.Get(ctx, hash)
		if err != nil || ok {
			return payload, ok, err
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return s.Get(ctx, hash)
}
