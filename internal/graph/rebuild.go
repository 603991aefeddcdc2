package graph

import (
	"fmt"

	"wsgraph/internal/id"
)

// Rebuild reconstructs a graph from persisted parts. Edges are trusted as
// persisted; callers run CleanupAndMerkleTreeHash afterwards, which also
// rejects a corrupt snapshot containing a cycle.
func Rebuild(root id.ID, weights []NodeWeight, edges []Edge) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[id.ID]*node, len(weights)),
		outgoing:   make(map[id.ID][]Edge),
		incoming:   make(map[id.ID][]Edge),
		categories: make(map[CategoryNodeKind]id.ID),
		rootID:     root,
		dirty:      true,
	}

	for _, w := range weights {
		if _, ok := g.nodes[w.ID()]; ok {
			return nil, fmt.Errorf("rebuilding graph: %w: %s", ErrIDCollision, w.ID())
		}
		if cat, ok := w.(*CategoryNodeWeight); ok {
			if _, exists := g.categories[cat.Category]; exists {
				return nil, fmt.Errorf("rebuilding graph: %w: %s", ErrCategoryExists, cat.Category)
			}
			g.categories[cat.Category] = w.ID()
		}
		g.nodes[w.ID()] = &node{weight: w}
	}

	rootNode, ok := g.nodes[root]
	if !ok {
		return nil, fmt.Errorf("rebuilding graph: root %s not among nodes", root)
	}
	if rootNode.weight.Kind() != KindRoot {
		return nil, fmt.Errorf("rebuilding graph: root %s has kind %s", root, rootNode.weight.Kind())
	}

	for _, e := range edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("rebuilding graph: edge source %s not among nodes", e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, fmt.Errorf("rebuilding graph: edge target %s not among nodes", e.To)
		}
		if g.HasEdge(e.From, e.Kind, e.To) {
			continue
		}
		g.outgoing[e.From] = append(g.outgoing[e.From], e)
		g.incoming[e.To] = append(g.incoming[e.To], e)
	}

	return g, nil
}
