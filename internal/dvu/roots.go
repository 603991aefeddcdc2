// Package dvu propagates dependent values: when an attribute value changes,
// every value subscribed to it, directly or transitively, is recomputed in
// dependency order. Pending work survives snapshotting because roots are
// recorded in the graph itself, under the DependentValueRoots category.
package dvu

import (
	"sort"

	"wsgraph/internal/graph"
	"wsgraph/internal/id"
)

// AddRoot marks a value as pending propagation. The mark is an edge from the
// DependentValueRoots category to the value, so adding the same root twice
// is a no-op and the pending set serializes with the snapshot.
func AddRoot(g *graph.Graph, valueID id.ID) error {
	if !g.HasNode(valueID) {
		return &graph.NodeWithIDNotFoundError{ID: valueID}
	}
	catID, err := g.CategoryNodeID(graph.CategoryDependentValueRoots)
	if err != nil {
		catID, err = g.AddCategoryNode(graph.CategoryDependentValueRoots)
		if err != nil {
			return err
		}
	}
	if g.HasEdge(catID, graph.EdgeUse, valueID) {
		return nil
	}
	return g.AddEdge(catID, graph.EdgeUse, valueID)
}

// Roots returns the pending root set in id order.
func Roots(g *graph.Graph) []id.ID {
	catID, err := g.CategoryNodeID(graph.CategoryDependentValueRoots)
	if err != nil {
		return nil
	}
	var roots []id.ID
	for _, e := range g.Edges(catID, graph.Outgoing, graph.EdgeUse) {
		roots = append(roots, e.To)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Compare(roots[j]) < 0 })
	return roots
}

// RootsExist reports whether any propagation work is pending.
func RootsExist(g *graph.Graph) bool {
	return len(Roots(g)) > 0
}

// TakeRoots returns the pending root set and clears it.
func TakeRoots(g *graph.Graph) ([]id.ID, error) {
	roots := Roots(g)
	if len(roots) == 0 {
		return nil, nil
	}
	catID, err := g.CategoryNodeID(graph.CategoryDependentValueRoots)
	if err != nil {
		return nil, err
	}
	for _, r := range roots {
		if err := g.RemoveEdge(catID, graph.EdgeUse, r); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// Closure returns the downstream transitive closure of the given values
// over subscription edges, roots included, in id order. A subscription edge
// points from the subscriber to the value it reads, so downstream traversal
// follows the edges in reverse.
func Closure(g *graph.Graph, roots []id.ID) ([]id.ID, error) {
	seen := make(map[id.ID]bool, len(roots))
	stack := make([]id.ID, 0, len(roots))
	for _, r := range roots {
		if !g.HasNode(r) {
			return nil, &graph.NodeWithIDNotFoundError{ID: r}
		}
		if !seen[r] {
			seen[r] = true
			stack = append(stack, r)
		}
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.Edges(n, graph.Incoming, graph.EdgeValueSubscription) {
			if !seen[e.From] {
				seen[e.From] = true
				stack = append(stack, e.From)
			}
		}
	}

	closure := make([]id.ID, 0, len(seen))
	for n := range seen {
		closure = append(closure, n)
	}
	sort.Slice(closure, func(i, j int) bool { return closure[i].Compare(closure[j]) < 0 })
	return closure, nil
}

// owningComponent walks containment edges upward until it finds the
// component a value belongs to. Values outside any component return the nil
// id.
func owningComponent(g *graph.Graph, valueID id.ID) id.ID {
	current := valueID
	for steps := 0; steps < 1<<16; steps++ {
		w, err := g.NodeWeight(current)
		if err != nil {
			return id.Nil
		}
		if w.Kind() == graph.KindComponent {
			return current
		}
		parent := id.Nil
		for _, kind := range []graph.EdgeKind{graph.EdgeContain, graph.EdgeSocketValue} {
			if edges := g.Edges(current, graph.Incoming, kind); len(edges) > 0 {
				parent = edges[0].From
				break
			}
		}
		if parent.IsNil() {
			return id.Nil
		}
		current = parent
	}
	return id.Nil
}

// markedForDeletion reports whether the component owning a value carries the
// deletion mark. Values of such components propagate as null and are never
// recomputed.
func markedForDeletion(g *graph.Graph, valueID id.ID) bool {
	owner := owningComponent(g, valueID)
	if owner.IsNil() {
		return false
	}
	w, err := g.NodeWeight(owner)
	if err != nil {
		return false
	}
	comp, err := graph.AsComponent(w)
	if err != nil {
		return false
	}
	return comp.ToDelete
}
