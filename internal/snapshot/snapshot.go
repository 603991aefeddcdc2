// Package snapshot persists workspace snapshot graphs and rebase batches in
// a content store. A snapshot is addressed by the hash of its canonical
// serialized form, so identical graphs always share one stored payload.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"wsgraph/internal/cas"
	"wsgraph/internal/graph"
	"wsgraph/internal/id"
	"wsgraph/internal/store"
)

// Version is the current snapshot serialization version. Version 1
// snapshots predate lineage ids and are migrated eagerly on load.
const Version = 2

// Address identifies a persisted workspace snapshot.
type Address cas.ContentHash

func (a Address) String() string { return cas.ContentHash(a).String() }

// IsNil reports whether the address is the zero value.
func (a Address) IsNil() bool { return cas.ContentHash(a).IsNil() }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return cas.ContentHash(a).MarshalText() }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	return (*cas.ContentHash)(a).UnmarshalText(text)
}

// ErrUnsupportedVersion is returned for snapshot payloads written by a
// newer serialization version.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// ErrSnapshotNotFound is returned when an address has no payload in the
// store.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrCorruptSnapshot is returned when a loaded payload does not hash back
// to its own address.
var ErrCorruptSnapshot = errors.New("snapshot payload does not match its address")

type weightEnvelope struct {
	Kind graph.NodeKind  `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func marshalWeight(w graph.NodeWeight) (weightEnvelope, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return weightEnvelope{}, fmt.Errorf("marshaling %s weight: %w", w.Kind(), err)
	}
	return weightEnvelope{Kind: w.Kind(), Data: data}, nil
}

func unmarshalWeight(env weightEnvelope) (graph.NodeWeight, error) {
	var w graph.NodeWeight
	switch env.Kind {
	case graph.KindRoot:
		w = &graph.RootNodeWeight{}
	case graph.KindContent:
		w = &graph.ContentNodeWeight{}
	case graph.KindProp:
		w = &graph.PropNodeWeight{}
	case graph.KindAttributeValue:
		w = &graph.AttributeValueNodeWeight{}
	case graph.KindComponent:
		w = &graph.ComponentNodeWeight{}
	case graph.KindFunc:
		w = &graph.FuncNodeWeight{}
	case graph.KindInputSocket:
		w = &graph.InputSocketNodeWeight{}
	case graph.KindOutputSocket:
		w = &graph.OutputSocketNodeWeight{}
	case graph.KindCategory:
		w = &graph.CategoryNodeWeight{}
	case graph.KindOrdering:
		w = &graph.OrderingNodeWeight{}
	default:
		return nil, fmt.Errorf("unknown node weight kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Data, w); err != nil {
		return nil, fmt.Errorf("unmarshaling %s weight: %w", env.Kind, err)
	}
	return w, nil
}

type edgeDoc struct {
	From id.ID          `json:"from"`
	Kind graph.EdgeKind `json:"kind"`
	To   id.ID          `json:"to"`
}

type graphDoc struct {
	Version int              `json:"version"`
	Root    id.ID            `json:"root"`
	Nodes   []weightEnvelope `json:"nodes"`
	Edges   []edgeDoc        `json:"edges"`
}

// Serialize renders a graph to its canonical byte form: nodes sorted by id,
// edges sorted by (from, kind, to), stable JSON key order.
func Serialize(g *graph.Graph) ([]byte, Address, error) {
	doc := graphDoc{Version: Version, Root: g.RootID()}

	for _, nodeID := range g.NodeIDs() {
		w, err := g.NodeWeight(nodeID)
		if err != nil {
			return nil, Address{}, err
		}
		env, err := marshalWeight(w)
		if err != nil {
			return nil, Address{}, err
		}
		doc.Nodes = append(doc.Nodes, env)
		for _, e := range g.AllOutgoing(nodeID) {
			doc.Edges = append(doc.Edges, edgeDoc{From: e.From, Kind: e.Kind, To: e.To})
		}
	}
	sort.Slice(doc.Edges, func(i, j int) bool {
		a, b := doc.Edges[i], doc.Edges[j]
		if c := a.From.Compare(b.From); c != 0 {
			return c < 0
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.To.Compare(b.To) < 0
	})

	payload, err := cas.CanonicalJSON(doc)
	if err != nil {
		return nil, Address{}, fmt.Errorf("serializing snapshot: %w", err)
	}
	return payload, Address(cas.HashBytes(payload)), nil
}

// Deserialize reconstructs a graph from its canonical byte form, migrating
// older versions eagerly so no caller ever sees a legacy-shaped graph.
func Deserialize(payload []byte) (*graph.Graph, error) {
	var doc graphDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("deserializing snapshot: %w", err)
	}
	if doc.Version > Version || doc.Version < 1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	weights := make([]graph.NodeWeight, 0, len(doc.Nodes))
	for _, env := range doc.Nodes {
		w, err := unmarshalWeight(env)
		if err != nil {
			return nil, err
		}
		weights = append(weights, migrateWeight(doc.Version, w))
	}
	edges := make([]graph.Edge, 0, len(doc.Edges))
	for _, e := range doc.Edges {
		edges = append(edges, graph.Edge{From: e.From, Kind: e.Kind, To: e.To})
	}

	g, err := graph.Rebuild(doc.Root, weights, edges)
	if err != nil {
		return nil, err
	}
	if err := g.CleanupAndMerkleTreeHash(); err != nil {
		return nil, err
	}
	return g, nil
}

// migrateWeight lifts older serialized weights to the current shape.
// Version 1 had no lineage ids; the node's own id doubles as its lineage.
func migrateWeight(version int, w graph.NodeWeight) graph.NodeWeight {
	if version >= 2 {
		return w
	}
	if w.LineageID().IsNil() {
		setLineage(w, w.ID())
	}
	return w
}

func setLineage(w graph.NodeWeight, lineage id.ID) {
	switch weight := w.(type) {
	case *graph.RootNodeWeight:
		weight.Lineage = lineage
	case *graph.ContentNodeWeight:
		weight.Lineage = lineage
	case *graph.PropNodeWeight:
		weight.Lineage = lineage
	case *graph.AttributeValueNodeWeight:
		weight.Lineage = lineage
	case *graph.ComponentNodeWeight:
		weight.Lineage = lineage
	case *graph.FuncNodeWeight:
		weight.Lineage = lineage
	case *graph.InputSocketNodeWeight:
		weight.Lineage = lineage
	case *graph.OutputSocketNodeWeight:
		weight.Lineage = lineage
	case *graph.CategoryNodeWeight:
		weight.Lineage = lineage
	case *graph.OrderingNodeWeight:
		weight.Lineage = lineage
	}
}

// Write persists a graph and returns its address. Writing the same graph
// twice is a no-op in the store.
func Write(ctx context.Context, s store.ContentStore, g *graph.Graph) (Address, error) {
	payload, addr, err := Serialize(g)
	if err != nil {
		return Address{}, err
	}
	stored, err := s.Put(ctx, payload)
	if err != nil {
		return Address{}, fmt.Errorf("writing snapshot: %w", err)
	}
	if stored != cas.ContentHash(addr) {
		return Address{}, fmt.Errorf("writing snapshot: store returned %s, want %s", stored, addr)
	}
	return addr, nil
}

// Load fetches and reconstructs a graph, verifying payload integrity
// against the address.
func Load(ctx context.Context, s store.ContentStore, addr Address) (*graph.Graph, error) {
	payload, ok, err := s.Get(ctx, cas.ContentHash(addr))
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", addr, err)
	}
	if !ok {
		return nil, fmt.Errorf("loading snapshot %s: %w", addr, ErrSnapshotNotFound)
	}
	if cas.HashBytes(payload) != cas.ContentHash(addr) {
		return nil, fmt.Errorf("loading snapshot %s: %w", addr, ErrCorruptSnapshot)
	}
	return Deserialize(payload)
}
