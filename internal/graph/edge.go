package graph

import "wsgraph/internal/id"

// EdgeKind discriminates the typed relations between nodes.
type EdgeKind string

const (
	// EdgeUse is generic containment/reference.
	EdgeUse EdgeKind = "Use"
	// EdgeContain is parent-to-child value containment.
	EdgeContain EdgeKind = "Contain"
	// EdgePrototype links an attribute value to its prototype. Callers
	// maintain the at-most-one cardinality.
	EdgePrototype EdgeKind = "Prototype"
	// EdgeSocket links a schema variant to a socket definition.
	EdgeSocket EdgeKind = "Socket"
	// EdgeSocketValue links a component to a socket's resolved value.
	EdgeSocketValue EdgeKind = "SocketValue"
	// EdgeValueSubscription links a subscribing attribute value to the
	// upstream value it reads from. Dependent-values propagation follows
	// these edges in reverse.
	EdgeValueSubscription EdgeKind = "ValueSubscription"
	// EdgeOrdering links an ordered container to its ordering node.
	EdgeOrdering EdgeKind = "Ordering"
	// EdgeOrdinal links an ordering node to each member of its sequence.
	EdgeOrdinal EdgeKind = "Ordinal"
	// EdgeRoot links the graph root to top-level nodes.
	EdgeRoot EdgeKind = "Root"
)

// Edge is a directed, typed relation. Edges carry no identity beyond
// (From, Kind, To); multiple edges of different kinds may connect the same
// pair of nodes.
type Edge struct {
	From id.ID
	Kind EdgeKind
	To   id.ID
}

// Direction selects edge orientation relative to a node.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)
