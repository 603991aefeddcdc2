package dvu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"wsgraph/internal/graph"
	"wsgraph/internal/id"
)

// ValueFunc recomputes one attribute value and returns its new resolved
// value. It runs concurrently with other recomputations that do not depend
// on it, so it must not touch the graph.
type ValueFunc func(ctx context.Context, valueID id.ID) (json.RawMessage, error)

// Executor schedules dependent value recomputation. Values run as soon as
// every value they subscribe to has finished, up to the concurrency limit.
type Executor struct {
	limit int64
	log   *slog.Logger
}

// NewExecutor creates an executor. A limit of zero or less means unbounded
// concurrency.
func NewExecutor(limit int64, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{limit: limit, log: log}
}

// Run takes the pending roots, computes their downstream closure, and
// recomputes every value in dependency order, writing results back into the
// graph. Values owned by a component marked for deletion are set to null
// without calling fn; their subscribers still recompute and observe the
// null. Run returns the first recomputation error and cancels the rest.
func (e *Executor) Run(ctx context.Context, g *graph.Graph, fn ValueFunc) error {
	roots, err := TakeRoots(g)
	if err != nil {
		return err
	}
	return e.Propagate(ctx, g, roots, fn)
}

// Propagate is Run for an explicit root set, leaving the graph's pending
// roots untouched.
func (e *Executor) Propagate(ctx context.Context, g *graph.Graph, roots []id.ID, fn ValueFunc) error {
	if len(roots) == 0 {
		return nil
	}
	closure, err := Closure(g, roots)
	if err != nil {
		return err
	}
	e.log.Debug("propagating dependent values",
		"roots", len(roots), "closure", len(closure), "limit", e.limit)

	// Dependency edges restricted to the closure: a value waits only for
	// upstream values that are themselves being recomputed.
	member := make(map[id.ID]bool, len(closure))
	for _, v := range closure {
		member[v] = true
	}
	waiting := make(map[id.ID]int, len(closure))
	dependents := make(map[id.ID][]id.ID, len(closure))
	for _, v := range closure {
		for _, edge := range g.Edges(v, graph.Outgoing, graph.EdgeValueSubscription) {
			if !member[edge.To] {
				continue
			}
			waiting[v]++
			dependents[edge.To] = append(dependents[edge.To], v)
		}
	}

	// Deletion marks are resolved up front so the recompute goroutines never
	// read the graph while another goroutine writes a result back.
	deleted := make(map[id.ID]bool, len(closure))
	for _, v := range closure {
		deleted[v] = markedForDeletion(g, v)
	}

	var sem *semaphore.Weighted
	if e.limit > 0 {
		sem = semaphore.NewWeighted(e.limit)
	}

	eg, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	launched := 0

	var launch func(valueID id.ID)
	launch = func(valueID id.ID) {
		launched++
		eg.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
			}

			value, err := e.recompute(ctx, valueID, deleted[valueID], fn)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if err := writeValue(g, valueID, value); err != nil {
				return err
			}
			for _, d := range dependents[valueID] {
				waiting[d]--
				if waiting[d] == 0 {
					launch(d)
				}
			}
			return nil
		})
	}

	mu.Lock()
	for _, v := range closure {
		if waiting[v] == 0 {
			launch(v)
		}
	}
	mu.Unlock()

	if err := eg.Wait(); err != nil {
		return err
	}
	if launched != len(closure) {
		// A subscription cycle inside the closure; the graph invariants
		// forbid this, so it indicates corruption.
		return fmt.Errorf("dependent value propagation stalled: %d of %d values ran", launched, len(closure))
	}
	e.log.Debug("dependent values propagated", "values", launched)
	return nil
}

func (e *Executor) recompute(ctx context.Context, valueID id.ID, deleted bool, fn ValueFunc) (json.RawMessage, error) {
	if deleted {
		e.log.Debug("value owner marked for deletion, writing null", "value", valueID)
		return nil, nil
	}
	value, err := fn(ctx, valueID)
	if err != nil {
		return nil, fmt.Errorf("recomputing value %s: %w", valueID, err)
	}
	return value, nil
}

func writeValue(g *graph.Graph, valueID id.ID, value json.RawMessage) error {
	w, err := g.NodeWeight(valueID)
	if err != nil {
		return err
	}
	av, err := graph.AsAttributeValue(w)
	if err != nil {
		return err
	}
	next := *av
	next.SetValue(value)
	return g.AddOrReplaceNode(&next)
}
