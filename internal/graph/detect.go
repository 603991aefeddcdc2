package graph

import (
	"errors"
	"fmt"
	"strings"

	"wsgraph/internal/id"
)

// UpdateKind discriminates the structural update operations.
type UpdateKind string

const (
	UpdateNewNode     UpdateKind = "NewNode"
	UpdateReplaceNode UpdateKind = "ReplaceNode"
	UpdateRemoveNode  UpdateKind = "RemoveNode"
	UpdateNewEdge     UpdateKind = "NewEdge"
	UpdateRemoveEdge  UpdateKind = "RemoveEdge"
)

// Update is one structural operation in a rebase batch. Updates are applied
// strictly in emission order; a NewEdge may reference a node inserted by an
// earlier NewNode in the same batch.
type Update struct {
	Kind UpdateKind

	// Weight is set for NewNode and ReplaceNode.
	Weight NodeWeight

	// Node is set for RemoveNode.
	Node id.ID

	// From, To, and EdgeKind are set for NewEdge and RemoveEdge.
	From     id.ID
	To       id.ID
	EdgeKind EdgeKind
}

func (u Update) String() string {
	switch u.Kind {
	case UpdateNewNode, UpdateReplaceNode:
		return fmt.Sprintf("%s(%s %s)", u.Kind, u.Weight.Kind(), u.Weight.ID())
	case UpdateRemoveNode:
		return fmt.Sprintf("%s(%s)", u.Kind, u.Node)
	default:
		return fmt.Sprintf("%s(%s -%s-> %s)", u.Kind, u.From, u.EdgeKind, u.To)
	}
}

// dedupeKey is stable across structurally identical updates.
func (u Update) dedupeKey() string {
	var b strings.Builder
	b.WriteString(string(u.Kind))
	b.WriteByte('|')
	switch u.Kind {
	case UpdateNewNode, UpdateReplaceNode:
		b.WriteString(u.Weight.ID().String())
		b.WriteByte('|')
		b.WriteString(u.Weight.ContentHash().String())
	case UpdateRemoveNode:
		b.WriteString(u.Node.String())
	default:
		b.WriteString(u.From.String())
		b.WriteByte('|')
		b.WriteString(string(u.EdgeKind))
		b.WriteByte('|')
		b.WriteString(u.To.String())
	}
	return b.String()
}

// ErrDirtyGraph is returned when a hash-based comparison is attempted on a
// graph mutated since its last CleanupAndMerkleTreeHash.
var ErrDirtyGraph = errors.New("graph has stale merkle hashes; run CleanupAndMerkleTreeHash first")

// ErrUnrelatedGraphs is returned when the two graphs do not share a root
// lineage, i.e. they have no common ancestor.
var ErrUnrelatedGraphs = errors.New("graphs share no common ancestor")

// MixedContainerKindsError reports a comparison between an ordered and an
// unordered container at the same logical position. The mismatch is never
// auto-resolved.
type MixedContainerKindsError struct {
	Container id.ID
}

func (e *MixedContainerKindsError) Error() string {
	return fmt.Sprintf("cannot compare ordered and unordered containers at node %s", e.Container)
}

// DestinationNotUpdatedError reports a node referenced during the walk of
// onto whose weight could not be resolved; the diff never silently skips a
// referenced node.
type DestinationNotUpdatedError struct {
	Destination id.ID
}

func (e *DestinationNotUpdatedError) Error() string {
	return fmt.Sprintf("destination %s not updated when importing subgraph", e.Destination)
}

// DetectUpdates diffs toRebase (the destination, e.g. head) against onto
// (the source of changes) and returns the ordered, deduplicated sequence of
// updates that transforms toRebase to incorporate onto's changes. Both
// graphs must be clean; subtrees with equal merkle hashes are pruned
// without being visited.
func DetectUpdates(toRebase, onto *Graph) ([]Update, error) {
	if toRebase.dirty || onto.dirty {
		return nil, ErrDirtyGraph
	}
	if toRebase.rootID != onto.rootID {
		return nil, ErrUnrelatedGraphs
	}

	d := &detector{
		toRebase: toRebase,
		onto:     onto,
		seen:     make(map[string]bool),
		imported: make(map[id.ID]bool),
		visited:  make(map[id.ID]bool),
	}
	if err := d.compare(onto.rootID); err != nil {
		return nil, err
	}
	return d.updates, nil
}

type detector struct {
	toRebase *Graph
	onto     *Graph

	updates []Update
	// seen deduplicates structurally identical updates.
	seen map[string]bool
	// imported tracks onto nodes already covered by a NewNode update.
	imported map[id.ID]bool
	// visited tracks onto nodes whose edges were already compared.
	visited map[id.ID]bool
}

func (d *detector) emit(u Update) {
	key := u.dedupeKey()
	if d.seen[key] {
		return
	}
	d.seen[key] = true
	d.updates = append(d.updates, u)
}

// ensureImported emits the NewNode update for an onto node absent from
// toRebase, before any edge referencing it.
func (d *detector) ensureImported(nodeID id.ID) error {
	if d.toRebase.HasNode(nodeID) || d.imported[nodeID] {
		return nil
	}
	n, ok := d.onto.nodes[nodeID]
	if !ok {
		return &DestinationNotUpdatedError{Destination: nodeID}
	}
	d.imported[nodeID] = true
	d.emit(Update{Kind: UpdateNewNode, Weight: n.weight.clone()})
	return nil
}

// compare walks one onto node, pruning when the merkle hashes agree.
func (d *detector) compare(nodeID id.ID) error {
	if d.visited[nodeID] {
		return nil
	}
	d.visited[nodeID] = true

	ontoNode, ok := d.onto.nodes[nodeID]
	if !ok {
		return &DestinationNotUpdatedError{Destination: nodeID}
	}

	rebaseNode, inRebase := d.toRebase.nodes[nodeID]
	if inRebase && rebaseNode.merkle == ontoNode.merkle {
		// Nothing changed anywhere below this point.
		return nil
	}

	if inRebase {
		if rebaseNode.weight.ContentHash() != ontoNode.weight.ContentHash() {
			d.emit(Update{Kind: UpdateReplaceNode, Weight: ontoNode.weight.clone()})
		}
		if err := d.checkContainerKinds(nodeID); err != nil {
			return err
		}
		return d.compareEdges(nodeID)
	}

	// Node is new in onto: import it, then add every outgoing edge and
	// descend.
	if err := d.ensureImported(nodeID); err != nil {
		return err
	}
	for _, e := range d.onto.outgoing[nodeID] {
		if err := d.ensureImported(e.To); err != nil {
			return err
		}
		d.emit(Update{Kind: UpdateNewEdge, From: e.From, To: e.To, EdgeKind: e.Kind})
		if err := d.compare(e.To); err != nil {
			return err
		}
	}
	return nil
}

// compareEdges diffs the outgoing edge sets of a node that exists on both
// sides.
func (d *detector) compareEdges(nodeID id.ID) error {
	ontoEdges := d.onto.outgoing[nodeID]
	rebaseEdges := d.toRebase.outgoing[nodeID]

	rebaseSet := make(map[Edge]bool, len(rebaseEdges))
	for _, e := range rebaseEdges {
		rebaseSet[e] = true
	}
	ontoSet := make(map[Edge]bool, len(ontoEdges))
	for _, e := range ontoEdges {
		ontoSet[e] = true
	}

	for _, e := range ontoEdges {
		if !rebaseSet[e] {
			if err := d.ensureImported(e.To); err != nil {
				return err
			}
			d.emit(Update{Kind: UpdateNewEdge, From: e.From, To: e.To, EdgeKind: e.Kind})
		}
		if err := d.compare(e.To); err != nil {
			return err
		}
	}

	for _, e := range rebaseEdges {
		if !ontoSet[e] {
			d.emit(Update{Kind: UpdateRemoveEdge, From: e.From, To: e.To, EdgeKind: e.Kind})
		}
	}
	return nil
}

// checkContainerKinds fails loud when one side of a container is ordered
// and the other is not, rather than guessing a merge policy.
func (d *detector) checkContainerKinds(nodeID id.ID) error {
	ontoOrdered := d.onto.IsOrdered(nodeID)
	rebaseOrdered := d.toRebase.IsOrdered(nodeID)
	if ontoOrdered == rebaseOrdered {
		return nil
	}
	// A container gaining its ordering node for the first time is a
	// legitimate transition only while it still has no typed children on
	// the unordered side.
	var unordered *Graph
	if ontoOrdered {
		unordered = d.toRebase
	} else {
		unordered = d.onto
	}
	for _, e := range unordered.outgoing[nodeID] {
		switch e.Kind {
		case EdgeOrdering, EdgeOrdinal:
		default:
			return &MixedContainerKindsError{Container: nodeID}
		}
	}
	return nil
}
