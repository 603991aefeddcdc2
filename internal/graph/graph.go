// Package graph implements the workspace snapshot graph: a versioned,
// content-addressed property graph holding one change set's working copy,
// together with update detection and update application for rebasing one
// graph onto another.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"wsgraph/internal/cas"
	"wsgraph/internal/id"
)

// NodeWithIDNotFoundError reports a lookup for an id with no live node.
type NodeWithIDNotFoundError struct {
	ID id.ID
}

func (e *NodeWithIDNotFoundError) Error() string {
	return fmt.Sprintf("node with id %s not found", e.ID)
}

// CategoryNodeNotFoundError reports a lookup for a category singleton that
// does not exist in the graph.
type CategoryNodeNotFoundError struct {
	Category CategoryNodeKind
}

func (e *CategoryNodeNotFoundError) Error() string {
	return fmt.Sprintf("category node %s not found", e.Category)
}

// CycleCreatedError reports an edge addition that would close a cycle.
type CycleCreatedError struct {
	From id.ID
	To   id.ID
	Kind EdgeKind
}

func (e *CycleCreatedError) Error() string {
	return fmt.Sprintf("adding %s edge %s -> %s would create a cycle", e.Kind, e.From, e.To)
}

// MissingOrderingError reports a container that should have an ordering node
// but does not.
type MissingOrderingError struct {
	Container id.ID
}

func (e *MissingOrderingError) Error() string {
	return fmt.Sprintf("container %s has no ordering node", e.Container)
}

// ErrIDCollision is returned when adding a node whose id is already live
// under a different lineage.
var ErrIDCollision = errors.New("node id already in use")

// ErrCategoryExists is returned when adding a second category node of the
// same kind.
var ErrCategoryExists = errors.New("category node already exists")

type node struct {
	weight NodeWeight
	merkle cas.ContentHash
}

// Graph is a single change set's in-memory working copy. It is not safe for
// concurrent mutation; each working copy is owned by exactly one logical
// context at a time, and cross-change-set coordination goes through the
// rebase protocol only.
type Graph struct {
	nodes      map[id.ID]*node
	outgoing   map[id.ID][]Edge
	incoming   map[id.ID][]Edge
	categories map[CategoryNodeKind]id.ID
	rootID     id.ID

	// dirty is set by any mutation and cleared by
	// CleanupAndMerkleTreeHash; hash-based comparison requires a clean
	// graph.
	dirty bool
}

// New creates an empty graph containing only a fresh root node.
func New() *Graph {
	g := &Graph{
		nodes:      make(map[id.ID]*node),
		outgoing:   make(map[id.ID][]Edge),
		incoming:   make(map[id.ID][]Edge),
		categories: make(map[CategoryNodeKind]id.ID),
	}
	root := NewRootNodeWeight()
	g.rootID = root.ID()
	g.nodes[root.ID()] = &node{weight: root}
	g.dirty = true
	return g
}

// RootID returns the id of the graph root.
func (g *Graph) RootID() id.ID {
	return g.rootID
}

// RootMerkleHash returns the root's merkle tree hash. Valid only after
// CleanupAndMerkleTreeHash.
func (g *Graph) RootMerkleHash() cas.ContentHash {
	return g.nodes[g.rootID].merkle
}

// Dirty reports whether the graph has been mutated since the last
// CleanupAndMerkleTreeHash.
func (g *Graph) Dirty() bool {
	return g.dirty
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of live edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, edges := range g.outgoing {
		n += len(edges)
	}
	return n
}

// HasNode reports whether a node with the given id is live.
func (g *Graph) HasNode(nodeID id.ID) bool {
	_, ok := g.nodes[nodeID]
	return ok
}

// NodeWeight returns the weight of the node with the given id.
func (g *Graph) NodeWeight(nodeID id.ID) (NodeWeight, error) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return nil, &NodeWithIDNotFoundError{ID: nodeID}
	}
	return n.weight, nil
}

// MerkleHash returns a node's merkle tree hash. Valid only after
// CleanupAndMerkleTreeHash.
func (g *Graph) MerkleHash(nodeID id.ID) (cas.ContentHash, error) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return cas.NilHash, &NodeWithIDNotFoundError{ID: nodeID}
	}
	return n.merkle, nil
}

// NodeIDs returns all live node ids sorted for deterministic iteration.
func (g *Graph) NodeIDs() []id.ID {
	ids := make([]id.ID, 0, len(g.nodes))
	for nodeID := range g.nodes {
		ids = append(ids, nodeID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids
}

// AddNode inserts a node. The id must not be live already.
func (g *Graph) AddNode(weight NodeWeight) error {
	if _, ok := g.nodes[weight.ID()]; ok {
		return fmt.Errorf("adding node %s: %w", weight.ID(), ErrIDCollision)
	}
	if cat, ok := weight.(*CategoryNodeWeight); ok {
		if _, exists := g.categories[cat.Category]; exists {
			return fmt.Errorf("adding category node %s: %w", cat.Category, ErrCategoryExists)
		}
		g.categories[cat.Category] = weight.ID()
	}
	g.nodes[weight.ID()] = &node{weight: weight}
	g.dirty = true
	return nil
}

// AddOrReplaceNode inserts a node, or replaces the weight of the live node
// with the same id. Replacement requires matching lineage.
func (g *Graph) AddOrReplaceNode(weight NodeWeight) error {
	existing, ok := g.nodes[weight.ID()]
	if !ok {
		return g.AddNode(weight)
	}
	if existing.weight.LineageID() != weight.LineageID() {
		return fmt.Errorf("replacing node %s: %w", weight.ID(), ErrIDCollision)
	}
	existing.weight = weight
	existing.merkle = cas.NilHash
	g.dirty = true
	return nil
}

// RemoveNode removes a node and all edges touching it. Removing the root is
// an error. Removing an ordered child also drops it from the container's
// sequence.
func (g *Graph) RemoveNode(nodeID id.ID) error {
	if nodeID == g.rootID {
		return fmt.Errorf("removing node %s: cannot remove the root", nodeID)
	}
	n, ok := g.nodes[nodeID]
	if !ok {
		return &NodeWithIDNotFoundError{ID: nodeID}
	}

	for _, e := range append([]Edge(nil), g.incoming[nodeID]...) {
		if err := g.RemoveEdge(e.From, e.Kind, e.To); err != nil {
			return err
		}
	}
	for _, e := range append([]Edge(nil), g.outgoing[nodeID]...) {
		if err := g.RemoveEdge(e.From, e.Kind, e.To); err != nil {
			return err
		}
	}

	if cat, ok := n.weight.(*CategoryNodeWeight); ok {
		delete(g.categories, cat.Category)
	}
	delete(g.nodes, nodeID)
	delete(g.outgoing, nodeID)
	delete(g.incoming, nodeID)
	g.dirty = true
	return nil
}

// HasEdge reports whether the exact edge is live.
func (g *Graph) HasEdge(from id.ID, kind EdgeKind, to id.ID) bool {
	for _, e := range g.outgoing[from] {
		if e.Kind == kind && e.To == to {
			return true
		}
	}
	return false
}

// AddEdge inserts a directed typed edge. Both endpoints must be live, and
// the edge must not close a cycle. Adding an edge that already exists is a
// no-op.
func (g *Graph) AddEdge(from id.ID, kind EdgeKind, to id.ID) error {
	if _, ok := g.nodes[from]; !ok {
		return &NodeWithIDNotFoundError{ID: from}
	}
	if _, ok := g.nodes[to]; !ok {
		return &NodeWithIDNotFoundError{ID: to}
	}
	if g.HasEdge(from, kind, to) {
		return nil
	}
	if g.reachable(to, from) {
		return &CycleCreatedError{From: from, To: to, Kind: kind}
	}
	e := Edge{From: from, Kind: kind, To: to}
	g.outgoing[from] = append(g.outgoing[from], e)
	g.incoming[to] = append(g.incoming[to], e)
	g.dirty = true
	return nil
}

// RemoveEdge removes an edge. Removal is idempotent: a missing edge or
// endpoint is a no-op. Removing the last containment edge from an ordered
// container to a child also drops the child from the sequence; parallel
// edges of other kinds between the same pair keep the sequence intact.
func (g *Graph) RemoveEdge(from id.ID, kind EdgeKind, to id.ID) error {
	if !g.HasEdge(from, kind, to) {
		return nil
	}
	g.outgoing[from] = dropEdge(g.outgoing[from], from, kind, to)
	g.incoming[to] = dropEdge(g.incoming[to], from, kind, to)
	g.dirty = true

	if kind != EdgeOrdering && kind != EdgeOrdinal && !g.hasContainmentEdge(from, to) {
		if ord, err := g.orderingWeight(from); err == nil {
			ord.Remove(to)
			g.nodes[ord.ID()].merkle = cas.NilHash
			if err := g.RemoveEdge(ord.ID(), EdgeOrdinal, to); err != nil {
				return err
			}
		}
	}
	return nil
}

// hasContainmentEdge reports whether any typed edge from the container to
// the child survives, ignoring the ordering bookkeeping kinds.
func (g *Graph) hasContainmentEdge(from, to id.ID) bool {
	for _, e := range g.outgoing[from] {
		if e.To == to && e.Kind != EdgeOrdering && e.Kind != EdgeOrdinal {
			return true
		}
	}
	return false
}

func dropEdge(edges []Edge, from id.ID, kind EdgeKind, to id.ID) []Edge {
	kept := edges[:0]
	for _, e := range edges {
		if !(e.From == from && e.Kind == kind && e.To == to) {
			kept = append(kept, e)
		}
	}
	return kept
}

// AddOrderedEdge inserts an edge and registers the target at the end of the
// source's explicit sequence, creating the ordering node on first use.
func (g *Graph) AddOrderedEdge(from id.ID, kind EdgeKind, to id.ID) error {
	if err := g.AddEdge(from, kind, to); err != nil {
		return err
	}

	ord, err := g.orderingWeight(from)
	if err != nil {
		var notFound *MissingOrderingError
		if !errors.As(err, &notFound) {
			return err
		}
		ord = NewOrderingNodeWeight()
		if err := g.AddNode(ord); err != nil {
			return err
		}
		if err := g.AddEdge(from, EdgeOrdering, ord.ID()); err != nil {
			return err
		}
	}

	ord.Append(to)
	g.nodes[ord.ID()].merkle = cas.NilHash
	g.dirty = true
	return g.AddEdge(ord.ID(), EdgeOrdinal, to)
}

// orderingWeight returns the ordering node weight for a container, or
// MissingOrderingError when the container is unordered.
func (g *Graph) orderingWeight(container id.ID) (*OrderingNodeWeight, error) {
	for _, e := range g.outgoing[container] {
		if e.Kind == EdgeOrdering {
			return AsOrdering(g.nodes[e.To].weight)
		}
	}
	return nil, &MissingOrderingError{Container: container}
}

// Ordering returns the explicit child sequence of an ordered container.
// Unordered containers fail with MissingOrderingError.
func (g *Graph) Ordering(container id.ID) ([]id.ID, error) {
	if _, ok := g.nodes[container]; !ok {
		return nil, &NodeWithIDNotFoundError{ID: container}
	}
	ord, err := g.orderingWeight(container)
	if err != nil {
		return nil, err
	}
	return append([]id.ID(nil), ord.Order...), nil
}

// IsOrdered reports whether a container has an ordering node.
func (g *Graph) IsOrdered(container id.ID) bool {
	_, err := g.orderingWeight(container)
	return err == nil
}

// Edges returns the edges touching a node in the given direction, filtered
// by kind. Higher layers use this instead of raw adjacency to respect
// typed-edge semantics.
func (g *Graph) Edges(nodeID id.ID, dir Direction, kind EdgeKind) []Edge {
	var src []Edge
	if dir == Outgoing {
		src = g.outgoing[nodeID]
	} else {
		src = g.incoming[nodeID]
	}
	var out []Edge
	for _, e := range src {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// AllOutgoing returns every outgoing edge of a node, copied.
func (g *Graph) AllOutgoing(nodeID id.ID) []Edge {
	return append([]Edge(nil), g.outgoing[nodeID]...)
}

// AddCategoryNode creates the singleton category node for a kind and hangs
// it off the root. At most one per kind may exist.
func (g *Graph) AddCategoryNode(category CategoryNodeKind) (id.ID, error) {
	if _, exists := g.categories[category]; exists {
		return id.Nil, fmt.Errorf("adding category node %s: %w", category, ErrCategoryExists)
	}
	weight := NewCategoryNodeWeight(category)
	if err := g.AddNode(weight); err != nil {
		return id.Nil, err
	}
	if err := g.AddEdge(g.rootID, EdgeUse, weight.ID()); err != nil {
		return id.Nil, err
	}
	return weight.ID(), nil
}

// CategoryNodeID finds the singleton category node for a kind.
func (g *Graph) CategoryNodeID(category CategoryNodeKind) (id.ID, error) {
	nodeID, ok := g.categories[category]
	if !ok {
		return id.Nil, &CategoryNodeNotFoundError{Category: category}
	}
	return nodeID, nil
}

// reachable reports whether target is reachable from start following
// outgoing edges.
func (g *Graph) reachable(start, target id.ID) bool {
	if start == target {
		return true
	}
	seen := map[id.ID]bool{start: true}
	stack := []id.ID{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.outgoing[current] {
			if e.To == target {
				return true
			}
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return false
}

// Clone returns a deep copy sharing no mutable state with the receiver.
// Working copies clone before speculative mutation and discard the clone on
// failure.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes:      make(map[id.ID]*node, len(g.nodes)),
		outgoing:   make(map[id.ID][]Edge, len(g.outgoing)),
		incoming:   make(map[id.ID][]Edge, len(g.incoming)),
		categories: make(map[CategoryNodeKind]id.ID, len(g.categories)),
		rootID:     g.rootID,
		dirty:      g.dirty,
	}
	for nodeID, n := range g.nodes {
		c.nodes[nodeID] = &node{weight: n.weight.clone(), merkle: n.merkle}
	}
	for nodeID, edges := range g.outgoing {
		if len(edges) > 0 {
			c.outgoing[nodeID] = append([]Edge(nil), edges...)
		}
	}
	for nodeID, edges := range g.incoming {
		if len(edges) > 0 {
			c.incoming[nodeID] = append([]Edge(nil), edges...)
		}
	}
	for category, nodeID := range g.categories {
		c.categories[category] = nodeID
	}
	return c
}
