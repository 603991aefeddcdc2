package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"wsgraph/internal/cas"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemStorePutIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	payload := []byte("schema: aws ec2 instance")
	first, err := s.Put(ctx, payload)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	second, err := s.Put(ctx, payload)
	if err != nil {
		t.Fatalf("second put failed: %v", err)
	}
	if first != second {
		t.Errorf("identical payloads hashed differently: %s vs %s", first, second)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 object, got %d", s.Len())
	}

	got, ok, err := s.Get(ctx, first)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload round-trip mismatch")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	payload := []byte(`{"nodes":[],"version":2}`)
	hash, err := s.Put(ctx, payload)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if hash != cas.HashBytes(payload) {
		t.Error("put returned a hash of something other than the payload")
	}

	got, ok, err := s.Get(ctx, hash)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload round-trip mismatch through compression")
	}

	_, ok, err = s.Get(ctx, cas.HashBytes([]byte("missing")))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Error("found payload for a hash never written")
	}
}

func TestCompareAndSwapHead(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := cas.HashBytes([]byte("snapshot-1"))
	second := cas.HashBytes([]byte("snapshot-2"))
	interloper := cas.HashBytes([]byte("snapshot-x"))

	if err := s.CompareAndSwapHead(ctx, "ws1", "head", cas.NilHash, first); err != nil {
		t.Fatalf("initial head failed: %v", err)
	}

	// A second initial write must lose.
	if err := s.CompareAndSwapHead(ctx, "ws1", "head", cas.NilHash, interloper); !errors.Is(err, ErrHeadMoved) {
		t.Errorf("expected ErrHeadMoved for duplicate initial write, got %v", err)
	}

	if err := s.CompareAndSwapHead(ctx, "ws1", "head", first, second); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	// Advancing from the stale base must lose.
	if err := s.CompareAndSwapHead(ctx, "ws1", "head", first, interloper); !errors.Is(err, ErrHeadMoved) {
		t.Errorf("expected ErrHeadMoved for stale base, got %v", err)
	}

	head, err := s.Head(ctx, "ws1", "head")
	if err != nil {
		t.Fatalf("head lookup failed: %v", err)
	}
	if head != second {
		t.Errorf("head is %s, want %s", head, second)
	}
}

func TestHeadMissingIsNil(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	head, err := s.Head(ctx, "ws-none", "head")
	if err != nil {
		t.Fatalf("head lookup failed: %v", err)
	}
	if !head.IsNil() {
		t.Errorf("expected nil head, got %s", head)
	}
}

func TestSweepObjectsRespectsHeadsAndRetention(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	headPayload := []byte("live snapshot")
	headHash, err := s.Put(ctx, headPayload)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := s.CompareAndSwapHead(ctx, "ws1", "head", cas.NilHash, headHash); err != nil {
		t.Fatalf("head failed: %v", err)
	}

	keptPayload := []byte("referenced from inside a snapshot")
	keptHash, err := s.Put(ctx, keptPayload)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	garbage := []byte("abandoned change set snapshot")
	garbageHash, err := s.Put(ctx, garbage)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Everything is younger than the cutoff: nothing deleted.
	plan, err := s.SweepObjects(ctx, SweepOptions{Retention: time.Hour})
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if plan.Deleted != 0 {
		t.Errorf("retention window ignored: deleted %d", plan.Deleted)
	}

	// Zero retention: only the garbage is eligible.
	plan, err = s.SweepObjects(ctx, SweepOptions{
		Retention: -time.Second,
		Keep:      []cas.ContentHash{keptHash},
	})
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if plan.Deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", plan.Deleted)
	}

	if _, ok, _ := s.Get(ctx, headHash); !ok {
		t.Error("head snapshot swept")
	}
	if _, ok, _ := s.Get(ctx, keptHash); !ok {
		t.Error("kept payload swept")
	}
	if _, ok, _ := s.Get(ctx, garbageHash); ok {
		t.Error("garbage survived the sweep")
	}
}

func TestSweepDryRunDeletesNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	garbageHash, err := s.Put(ctx, []byte("garbage"))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	plan, err := s.SweepObjects(ctx, SweepOptions{Retention: -time.Second, DryRun: true})
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if plan.Deleted != 1 {
		t.Errorf("dry run should plan 1 deletion, got %d", plan.Deleted)
	}
	if _, ok, _ := s.Get(ctx, garbageHash); !ok {
		t.Error("dry run deleted an object")
	}
}

func TestLayeredStoreWritesThrough(t *testing.T) {
	ctx := context.Background()
	durable := NewMemStore()
	layered := NewLayeredStore(durable)

	payload := []byte("layered payload")
	hash, err := layered.Put(ctx, payload)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Durable tier sees the write immediately.
	got, ok, err := durable.Get(ctx, hash)
	if err != nil || !ok {
		t.Fatalf("durable get failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("durable payload mismatch")
	}
}

func TestLayeredStoreWarmsHotTier(t *testing.T) {
	ctx := context.Background()
	durable := NewMemStore()

	// Write behind the layered store's back, straight to durable.
	payload := []byte("written elsewhere")
	hash, err := durable.Put(ctx, payload)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	layered := NewLayeredStore(durable)
	got, ok, err := layered.Get(ctx, hash)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch through fallback")
	}
	if layered.hot.Len() != 1 {
		t.Error("durable hit did not warm the hot tier")
	}
}

func TestLayeredStoreDelegatesHeads(t *testing.T) {
	ctx := context.Background()
	layered := NewLayeredStore(openTestStore(t))

	first := cas.HashBytes([]byte("snapshot-1"))
	if err := layered.CompareAndSwapHead(ctx, "ws1", "head", cas.NilHash, first); err != nil {
		t.Fatalf("initial head failed: %v", err)
	}
	head, err := layered.Head(ctx, "ws1", "head")
	if err != nil {
		t.Fatalf("head lookup failed: %v", err)
	}
	if head != first {
		t.Errorf("head is %s, want %s", head, first)
	}
	if err := layered.CompareAndSwapHead(ctx, "ws1", "head", cas.NilHash, first); !errors.Is(err, ErrHeadMoved) {
		t.Errorf("expected ErrHeadMoved through the layered store, got %v", err)
	}
}

func TestLayeredStoreHeadsNeedDurableSupport(t *testing.T) {
	ctx := context.Background()
	layered := NewLayeredStore(NewMemStore())

	if _, err := layered.Head(ctx, "ws1", "head"); !errors.Is(err, ErrNoHeadTier) {
		t.Errorf("expected ErrNoHeadTier from Head, got %v", err)
	}
	next := cas.HashBytes([]byte("snapshot-1"))
	if err := layered.CompareAndSwapHead(ctx, "ws1", "head", cas.NilHash, next); !errors.Is(err, ErrNoHeadTier) {
		t.Errorf("expected ErrNoHeadTier from CompareAndSwapHead, got %v", err)
	}
}

func TestLayeredStoreGetWait(t *testing.T) {
	ctx := context.Background()
	layered := NewLayeredStore(NewMemStore())

	payload := []byte("racing write")
	hash := cas.HashBytes(payload)

	go func() {
		time.Sleep(5 * time.Millisecond)
		layered.Put(ctx, payload)
	}()

	got, ok, err := layered.GetWait(ctx, hash, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("get wait failed: %v", err)
	}
	if !ok {
		t.Fatal("get wait missed the racing write")
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
}
