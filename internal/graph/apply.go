package graph

import (
	"errors"
	"fmt"

	"wsgraph/internal/id"
)

// ConflictKind classifies merge conflicts surfaced by PerformUpdates.
// Conflicts are reported, never auto-resolved here.
type ConflictKind string

const (
	// ConflictNodeNotFound: an edge update references a node that does not
	// exist in the target after all prior updates in the batch.
	ConflictNodeNotFound ConflictKind = "NodeNotFound"
	// ConflictCycleCreated: applying an edge would close a cycle.
	ConflictCycleCreated ConflictKind = "CycleCreated"
	// ConflictDivergentReplace: a node replacement targets a live node of a
	// different lineage, i.e. both sides replaced the same logical entity
	// divergently.
	ConflictDivergentReplace ConflictKind = "DivergentReplace"
	// ConflictExclusiveCategory: a batch introduces a second category node
	// of a kind that already exists.
	ConflictExclusiveCategory ConflictKind = "ExclusiveCategory"
)

// Conflict is a structured merge conflict. Callers inspect conflicts and
// decide: retry the rebase, surface to the user, or re-derive from a newer
// base.
type Conflict struct {
	Kind     ConflictKind
	Node     id.ID
	From     id.ID
	To       id.ID
	EdgeKind EdgeKind
	Update   Update
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s conflict applying %s", c.Kind, c.Update)
}

// ErrMalformedUpdate is returned for updates that cannot be interpreted at
// all, e.g. a NewNode with a nil weight. This is a caller bug, not a
// conflict.
var ErrMalformedUpdate = errors.New("malformed update")

// PerformUpdates replays updates strictly in order, mutating the receiver.
// The first conflict stops the replay and is returned; the graph is then in
// a partially updated state, so callers apply batches to a clone and
// discard the clone unless the conflict slice comes back empty. Errors
// indicate structural invariant violations or malformed batches.
func (g *Graph) PerformUpdates(updates []Update) ([]Conflict, error) {
	for _, u := range updates {
		conflict, err := g.performUpdate(u)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			conflict.Update = u
			return []Conflict{*conflict}, nil
		}
	}
	return nil, nil
}

func (g *Graph) performUpdate(u Update) (*Conflict, error) {
	switch u.Kind {
	case UpdateNewNode:
		return g.applyNewNode(u)
	case UpdateReplaceNode:
		return g.applyReplaceNode(u)
	case UpdateRemoveNode:
		if !g.HasNode(u.Node) {
			// Already gone; removal is idempotent.
			return nil, nil
		}
		return nil, g.RemoveNode(u.Node)
	case UpdateNewEdge:
		return g.applyNewEdge(u)
	case UpdateRemoveEdge:
		return nil, g.RemoveEdge(u.From, u.EdgeKind, u.To)
	default:
		return nil, fmt.Errorf("%w: unknown update kind %q", ErrMalformedUpdate, u.Kind)
	}
}

func (g *Graph) applyNewNode(u Update) (*Conflict, error) {
	if u.Weight == nil {
		return nil, fmt.Errorf("%w: NewNode with nil weight", ErrMalformedUpdate)
	}
	existing, err := g.NodeWeight(u.Weight.ID())
	if err != nil {
		var notFound *NodeWithIDNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		if cat, ok := u.Weight.(*CategoryNodeWeight); ok {
			if liveID, exists := g.categories[cat.Category]; exists && liveID != u.Weight.ID() {
				return &Conflict{Kind: ConflictExclusiveCategory, Node: u.Weight.ID()}, nil
			}
		}
		return nil, g.AddNode(u.Weight.clone())
	}
	// The id is live already. Identical content is an idempotent re-add;
	// same lineage with new content degrades to a replace; a different
	// lineage means both sides allocated the id, which ids never allow.
	if existing.ContentHash() == u.Weight.ContentHash() {
		return nil, nil
	}
	if existing.LineageID() != u.Weight.LineageID() {
		return &Conflict{Kind: ConflictDivergentReplace, Node: u.Weight.ID()}, nil
	}
	return nil, g.AddOrReplaceNode(u.Weight.clone())
}

func (g *Graph) applyReplaceNode(u Update) (*Conflict, error) {
	if u.Weight == nil {
		return nil, fmt.Errorf("%w: ReplaceNode with nil weight", ErrMalformedUpdate)
	}
	existing, err := g.NodeWeight(u.Weight.ID())
	if err != nil {
		var notFound *NodeWithIDNotFoundError
		if errors.As(err, &notFound) {
			return &Conflict{Kind: ConflictNodeNotFound, Node: u.Weight.ID()}, nil
		}
		return nil, err
	}
	if existing.LineageID() != u.Weight.LineageID() {
		return &Conflict{Kind: ConflictDivergentReplace, Node: u.Weight.ID()}, nil
	}
	return nil, g.AddOrReplaceNode(u.Weight.clone())
}

func (g *Graph) applyNewEdge(u Update) (*Conflict, error) {
	if !g.HasNode(u.From) {
		return &Conflict{Kind: ConflictNodeNotFound, Node: u.From, From: u.From, To: u.To, EdgeKind: u.EdgeKind}, nil
	}
	if !g.HasNode(u.To) {
		return &Conflict{Kind: ConflictNodeNotFound, Node: u.To, From: u.From, To: u.To, EdgeKind: u.EdgeKind}, nil
	}
	err := g.AddEdge(u.From, u.EdgeKind, u.To)
	var cycle *CycleCreatedError
	if errors.As(err, &cycle) {
		return &Conflict{Kind: ConflictCycleCreated, From: u.From, To: u.To, EdgeKind: u.EdgeKind}, nil
	}
	return nil, err
}
