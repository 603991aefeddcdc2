package dvu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wsgraph/internal/graph"
	"wsgraph/internal/id"
)

func newValue(t *testing.T, g *graph.Graph, value string) *graph.AttributeValueNodeWeight {
	t.Helper()
	av := graph.NewAttributeValueNodeWeight([]byte(value))
	if err := g.AddNode(av); err != nil {
		t.Fatalf("adding value: %v", err)
	}
	return av
}

// subscribe wires reader to read from source.
func subscribe(t *testing.T, g *graph.Graph, reader, source id.ID) {
	t.Helper()
	if err := g.AddEdge(reader, graph.EdgeValueSubscription, source); err != nil {
		t.Fatalf("adding subscription: %v", err)
	}
}

func currentValue(t *testing.T, g *graph.Graph, valueID id.ID) string {
	t.Helper()
	w, err := g.NodeWeight(valueID)
	if err != nil {
		t.Fatalf("node weight: %v", err)
	}
	av, err := graph.AsAttributeValue(w)
	if err != nil {
		t.Fatalf("downcast: %v", err)
	}
	return string(av.Value)
}

func TestAddRootIsIdempotent(t *testing.T) {
	g := graph.New()
	av := newValue(t, g, `1`)

	if err := AddRoot(g, av.ID()); err != nil {
		t.Fatalf("add root: %v", err)
	}
	if err := AddRoot(g, av.ID()); err != nil {
		t.Fatalf("second add root: %v", err)
	}
	if roots := Roots(g); len(roots) != 1 || roots[0] != av.ID() {
		t.Fatalf("expected exactly one root, got %v", roots)
	}

	missing := id.New()
	var notFound *graph.NodeWithIDNotFoundError
	if err := AddRoot(g, missing); !errors.As(err, &notFound) {
		t.Errorf("expected NodeWithIDNotFoundError, got %v", err)
	}
}

func TestTakeRootsClearsPendingSet(t *testing.T) {
	g := graph.New()
	a := newValue(t, g, `1`)
	b := newValue(t, g, `2`)
	for _, v := range []id.ID{a.ID(), b.ID()} {
		if err := AddRoot(g, v); err != nil {
			t.Fatalf("add root: %v", err)
		}
	}
	if !RootsExist(g) {
		t.Fatal("roots should exist")
	}

	roots, err := TakeRoots(g)
	if err != nil {
		t.Fatalf("take roots: %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(roots))
	}
	if RootsExist(g) {
		t.Error("pending set not cleared")
	}
}

func TestClosureFollowsSubscriptionsDownstream(t *testing.T) {
	g := graph.New()
	a := newValue(t, g, `1`)
	b := newValue(t, g, `2`)
	c := newValue(t, g, `3`)
	unrelated := newValue(t, g, `4`)
	subscribe(t, g, b.ID(), a.ID())
	subscribe(t, g, c.ID(), b.ID())

	closure, err := Closure(g, []id.ID{a.ID()})
	if err != nil {
		t.Fatalf("closure: %v", err)
	}
	if len(closure) != 3 {
		t.Fatalf("expected 3 values in closure, got %d", len(closure))
	}
	for _, v := range closure {
		if v == unrelated.ID() {
			t.Error("closure includes a value with no subscription path to the root")
		}
	}

	// Starting mid-chain excludes upstream.
	closure, err = Closure(g, []id.ID{b.ID()})
	if err != nil {
		t.Fatalf("closure: %v", err)
	}
	if len(closure) != 2 {
		t.Fatalf("expected 2 values in closure, got %d", len(closure))
	}
}

func TestPropagateChainRunsInDependencyOrder(t *testing.T) {
	for _, limit := range []int64{1, 2, 0} {
		t.Run(fmt.Sprintf("limit_%d", limit), func(t *testing.T) {
			g := graph.New()
			a := newValue(t, g, `1`)
			b := newValue(t, g, `0`)
			c := newValue(t, g, `0`)
			subscribe(t, g, b.ID(), a.ID())
			subscribe(t, g, c.ID(), b.ID())

			var mu sync.Mutex
			var order []id.ID
			fn := func(_ context.Context, valueID id.ID) (json.RawMessage, error) {
				mu.Lock()
				order = append(order, valueID)
				mu.Unlock()
				return []byte(`42`), nil
			}

			exec := NewExecutor(limit, nil)
			if err := exec.Propagate(context.Background(), g, []id.ID{a.ID()}, fn); err != nil {
				t.Fatalf("propagate: %v", err)
			}

			if len(order) != 3 {
				t.Fatalf("expected 3 recomputations, got %d", len(order))
			}
			if order[0] != a.ID() || order[1] != b.ID() || order[2] != c.ID() {
				t.Errorf("values ran out of dependency order: %v", order)
			}
			for _, v := range []id.ID{a.ID(), b.ID(), c.ID()} {
				if got := currentValue(t, g, v); got != `42` {
					t.Errorf("value %s not written back: %s", v, got)
				}
			}
		})
	}
}

func TestPropagateFanOutHonorsConcurrencyLimit(t *testing.T) {
	g := graph.New()
	source := newValue(t, g, `"phosphorus"`)
	var readers []id.ID
	for i := 0; i < 16; i++ {
		r := newValue(t, g, `null`)
		subscribe(t, g, r.ID(), source.ID())
		readers = append(readers, r.ID())
	}

	var inFlight, peak, total atomic.Int64
	fn := func(_ context.Context, _ id.ID) (json.RawMessage, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		total.Add(1)
		return []byte(`"phosphorus"`), nil
	}

	exec := NewExecutor(2, nil)
	if err := exec.Propagate(context.Background(), g, []id.ID{source.ID()}, fn); err != nil {
		t.Fatalf("propagate: %v", err)
	}

	if total.Load() != 17 {
		t.Errorf("expected 17 recomputations, got %d", total.Load())
	}
	if peak.Load() > 2 {
		t.Errorf("concurrency limit exceeded: peak %d", peak.Load())
	}
	for _, r := range readers {
		if got := currentValue(t, g, r); got != `"phosphorus"` {
			t.Errorf("reader %s did not converge: %s", r, got)
		}
	}
}

func TestDeletionMarkPropagatesNull(t *testing.T) {
	g := graph.New()

	owner := graph.NewComponentNodeWeight("doomed")
	if err := g.AddNode(owner); err != nil {
		t.Fatalf("adding component: %v", err)
	}
	source := newValue(t, g, `"live"`)
	if err := g.AddEdge(owner.ID(), graph.EdgeContain, source.ID()); err != nil {
		t.Fatalf("containment edge: %v", err)
	}
	reader := newValue(t, g, `"stale"`)
	subscribe(t, g, reader.ID(), source.ID())

	calls := make(map[id.ID]int)
	var mu sync.Mutex
	fn := func(_ context.Context, valueID id.ID) (json.RawMessage, error) {
		mu.Lock()
		calls[valueID]++
		mu.Unlock()
		return []byte(`"recomputed"`), nil
	}

	// Mark the owner for deletion: the source goes null without running fn,
	// the reader still recomputes and observes the null.
	owner.SetToDelete(true)
	if err := g.AddOrReplaceNode(owner); err != nil {
		t.Fatalf("replacing component: %v", err)
	}
	exec := NewExecutor(0, nil)
	if err := exec.Propagate(context.Background(), g, []id.ID{source.ID()}, fn); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if calls[source.ID()] != 0 {
		t.Error("deleted component's value was recomputed")
	}
	if calls[reader.ID()] != 1 {
		t.Errorf("reader recomputed %d times, want 1", calls[reader.ID()])
	}
	if got := currentValue(t, g, source.ID()); got != "" {
		t.Errorf("deleted value should be null, got %s", got)
	}

	// Edits made while the owner is deleted do not propagate: the next
	// pass forces the value back to null without running fn for it.
	w, err := g.NodeWeight(source.ID())
	if err != nil {
		t.Fatalf("node weight: %v", err)
	}
	av, err := graph.AsAttributeValue(w)
	if err != nil {
		t.Fatalf("downcast: %v", err)
	}
	edited := *av
	edited.SetValue([]byte(`"edited while deleted"`))
	if err := g.AddOrReplaceNode(&edited); err != nil {
		t.Fatalf("editing deleted value: %v", err)
	}
	if err := exec.Propagate(context.Background(), g, []id.ID{source.ID()}, fn); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if calls[source.ID()] != 0 {
		t.Error("edit to a deleted component's value was recomputed")
	}
	if got := currentValue(t, g, source.ID()); got != "" {
		t.Errorf("edit made while deleted propagated: %s", got)
	}
	if calls[reader.ID()] != 2 {
		t.Errorf("reader recomputed %d times, want 2", calls[reader.ID()])
	}

	// Unmark: the value recomputes again.
	owner.SetToDelete(false)
	if err := g.AddOrReplaceNode(owner); err != nil {
		t.Fatalf("replacing component: %v", err)
	}
	if err := exec.Propagate(context.Background(), g, []id.ID{source.ID()}, fn); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if calls[source.ID()] != 1 {
		t.Errorf("undeleted value recomputed %d times, want 1", calls[source.ID()])
	}
	if got := currentValue(t, g, source.ID()); got != `"recomputed"` {
		t.Errorf("undeleted value not recomputed: %s", got)
	}
}

func TestRunConsumesPendingRoots(t *testing.T) {
	g := graph.New()
	a := newValue(t, g, `1`)
	if err := AddRoot(g, a.ID()); err != nil {
		t.Fatalf("add root: %v", err)
	}

	ran := 0
	fn := func(context.Context, id.ID) (json.RawMessage, error) {
		ran++
		return []byte(`2`), nil
	}
	exec := NewExecutor(1, nil)
	if err := exec.Run(context.Background(), g, fn); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ran != 1 {
		t.Errorf("expected 1 recomputation, got %d", ran)
	}
	if RootsExist(g) {
		t.Error("run left pending roots behind")
	}

	// No pending work: fn never runs.
	if err := exec.Run(context.Background(), g, fn); err != nil {
		t.Fatalf("idle run: %v", err)
	}
	if ran != 1 {
		t.Error("idle run recomputed values")
	}
}

func TestPropagateStopsOnError(t *testing.T) {
	g := graph.New()
	a := newValue(t, g, `1`)
	b := newValue(t, g, `2`)
	subscribe(t, g, b.ID(), a.ID())

	boom := errors.New("function backend unavailable")
	fn := func(_ context.Context, valueID id.ID) (json.RawMessage, error) {
		if valueID == a.ID() {
			return nil, boom
		}
		return []byte(`3`), nil
	}

	exec := NewExecutor(1, nil)
	err := exec.Propagate(context.Background(), g, []id.ID{a.ID()}, fn)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the recomputation error, got %v", err)
	}
	if got := currentValue(t, g, b.ID()); got != `2` {
		t.Errorf("downstream value recomputed after failure: %s", got)
	}
}
