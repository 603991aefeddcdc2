package graph

import (
	"bytes"
	"fmt"
	"sort"

	"wsgraph/internal/cas"
	"wsgraph/internal/id"
)

// CleanupAndMerkleTreeHash removes every node unreachable from the root,
// then recomputes merkle tree hashes bottom-up. It must run before any
// hash-based comparison and is idempotent.
func (g *Graph) CleanupAndMerkleTreeHash() error {
	g.sweepUnreachable()
	if err := g.rehashFrom(g.rootID, make(map[id.ID]cas.ContentHash), make(map[id.ID]bool)); err != nil {
		return err
	}
	g.dirty = false
	return nil
}

// sweepUnreachable drops nodes with no path from the root. An unreachable
// node can only be referenced by other unreachable nodes, so the sweep never
// has to patch adjacency of surviving nodes.
func (g *Graph) sweepUnreachable() {
	reachable := map[id.ID]bool{g.rootID: true}
	stack := []id.ID{g.rootID}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.outgoing[current] {
			if !reachable[e.To] {
				reachable[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}

	for nodeID, n := range g.nodes {
		if reachable[nodeID] {
			continue
		}
		if cat, ok := n.weight.(*CategoryNodeWeight); ok {
			delete(g.categories, cat.Category)
		}
		delete(g.nodes, nodeID)
		delete(g.outgoing, nodeID)
		delete(g.incoming, nodeID)
	}
}

// rehashFrom recomputes a node's merkle hash from its content hash plus the
// hash-ordered merkle hashes of its children, memoized across shared
// subgraphs.
func (g *Graph) rehashFrom(nodeID id.ID, memo map[id.ID]cas.ContentHash, visiting map[id.ID]bool) error {
	if _, done := memo[nodeID]; done {
		return nil
	}
	if visiting[nodeID] {
		return fmt.Errorf("merkle hashing: cycle through node %s", nodeID)
	}
	visiting[nodeID] = true
	defer delete(visiting, nodeID)

	n := g.nodes[nodeID]
	children := g.outgoing[nodeID]
	entries := make([][]byte, 0, len(children))
	for _, e := range children {
		if err := g.rehashFrom(e.To, memo, visiting); err != nil {
			return err
		}
		child := memo[e.To]
		entry := make([]byte, 0, len(e.Kind)+len(child))
		entry = append(entry, []byte(e.Kind)...)
		entry = append(entry, child[:]...)
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i], entries[j]) < 0 })

	hasher := cas.NewHasher()
	content := n.weight.ContentHash()
	hasher.Write(content[:])
	for _, entry := range entries {
		hasher.Write(entry)
	}
	n.merkle = cas.SumHasher(hasher)
	memo[nodeID] = n.merkle
	return nil
}
