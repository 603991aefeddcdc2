package graph

import "testing"

func buildComponentTree(t *testing.T) (*Graph, *ComponentNodeWeight, *AttributeValueNodeWeight) {
	t.Helper()
	g := New()
	comp := NewComponentNodeWeight("server")
	av := NewAttributeValueNodeWeight([]byte(`"eu-central-1"`))
	for _, w := range []NodeWeight{comp, av} {
		if err := g.AddNode(w); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	if err := g.AddEdge(g.RootID(), EdgeUse, comp.ID()); err != nil {
		t.Fatalf("edge failed: %v", err)
	}
	if err := g.AddEdge(comp.ID(), EdgeContain, av.ID()); err != nil {
		t.Fatalf("edge failed: %v", err)
	}
	return g, comp, av
}

func TestCleanupIdempotent(t *testing.T) {
	g, _, _ := buildComponentTree(t)
	if err := g.CleanupAndMerkleTreeHash(); err != nil {
		t.Fatalf("first cleanup failed: %v", err)
	}
	nodes, edges, root := g.NodeCount(), g.EdgeCount(), g.RootMerkleHash()

	if err := g.CleanupAndMerkleTreeHash(); err != nil {
		t.Fatalf("second cleanup failed: %v", err)
	}
	if g.NodeCount() != nodes || g.EdgeCount() != edges {
		t.Errorf("cleanup not idempotent: counts changed %d/%d -> %d/%d",
			nodes, edges, g.NodeCount(), g.EdgeCount())
	}
	if g.RootMerkleHash() != root {
		t.Errorf("cleanup not idempotent: root merkle changed")
	}
}

func TestCleanupSweepsUnreachable(t *testing.T) {
	g, comp, _ := buildComponentTree(t)
	orphan := NewComponentNodeWeight("orphan")
	if err := g.AddNode(orphan); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := g.CleanupAndMerkleTreeHash(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if g.HasNode(orphan.ID()) {
		t.Error("unreachable node survived cleanup")
	}
	if !g.HasNode(comp.ID()) {
		t.Error("reachable node swept by cleanup")
	}
}

func TestMutationInvalidatesMerkle(t *testing.T) {
	g, _, av := buildComponentTree(t)
	if err := g.CleanupAndMerkleTreeHash(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	before := g.RootMerkleHash()

	w, _ := g.NodeWeight(av.ID())
	value, _ := AsAttributeValue(w)
	value.SetValue([]byte(`"us-east-1"`))
	if err := g.AddOrReplaceNode(value); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if !g.Dirty() {
		t.Fatal("mutation did not mark the graph dirty")
	}
	if err := g.CleanupAndMerkleTreeHash(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if g.RootMerkleHash() == before {
		t.Error("value change did not propagate to the root merkle hash")
	}
}

func TestMerkleIgnoresAdjacencyOrder(t *testing.T) {
	// Two graphs with the same nodes and edges added in different order
	// must not be distinguishable by merkle hash at the parent.
	g := New()
	a := NewComponentNodeWeight("a")
	b := NewComponentNodeWeight("b")
	for _, w := range []NodeWeight{a, b} {
		if err := g.AddNode(w); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	if err := g.AddEdge(g.RootID(), EdgeUse, a.ID()); err != nil {
		t.Fatalf("edge failed: %v", err)
	}
	if err := g.AddEdge(g.RootID(), EdgeUse, b.ID()); err != nil {
		t.Fatalf("edge failed: %v", err)
	}
	if err := g.CleanupAndMerkleTreeHash(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	first := g.RootMerkleHash()

	h := g.Clone()
	if err := h.RemoveEdge(h.RootID(), EdgeUse, a.ID()); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := h.RemoveEdge(h.RootID(), EdgeUse, b.ID()); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	// Orphans would be swept, so re-add edges in the opposite order before
	// cleanup.
	if err := h.AddEdge(h.RootID(), EdgeUse, b.ID()); err != nil {
		t.Fatalf("edge failed: %v", err)
	}
	if err := h.AddEdge(h.RootID(), EdgeUse, a.ID()); err != nil {
		t.Fatalf("edge failed: %v", err)
	}
	if err := h.CleanupAndMerkleTreeHash(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if h.RootMerkleHash() != first {
		t.Error("adjacency insertion order leaked into the merkle hash")
	}
}
