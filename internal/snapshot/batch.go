package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wsgraph/internal/cas"
	"wsgraph/internal/graph"
	"wsgraph/internal/id"
	"wsgraph/internal/store"
)

// BatchAddress identifies a persisted rebase batch. It is a distinct
// address kind from snapshot addresses: the two namespaces never mix.
type BatchAddress cas.ContentHash

func (a BatchAddress) String() string { return cas.ContentHash(a).String() }

// IsNil reports whether the address is the zero value.
func (a BatchAddress) IsNil() bool { return cas.ContentHash(a).IsNil() }

// ErrBatchNotFound is returned when a batch address has no payload in the
// store.
var ErrBatchNotFound = errors.New("rebase batch not found")

// RebaseBatch is an ordered list of updates computed against a specific
// pair of snapshots. Updates must be replayed in order.
type RebaseBatch struct {
	From    Address
	To      Address
	Updates []graph.Update
}

type updateDoc struct {
	Kind     graph.UpdateKind `json:"kind"`
	Weight   *weightEnvelope  `json:"weight,omitempty"`
	Node     id.ID            `json:"node,omitempty"`
	From     id.ID            `json:"from,omitempty"`
	To       id.ID            `json:"to,omitempty"`
	EdgeKind graph.EdgeKind   `json:"edgeKind,omitempty"`
}

type batchDoc struct {
	Version int         `json:"version"`
	From    Address     `json:"fromAddress"`
	To      Address     `json:"toAddress"`
	Updates []updateDoc `json:"updates"`
}

// EncodeBatch renders a batch to its canonical byte form and address.
func EncodeBatch(batch *RebaseBatch) ([]byte, BatchAddress, error) {
	doc := batchDoc{Version: Version, From: batch.From, To: batch.To}
	for _, u := range batch.Updates {
		d := updateDoc{Kind: u.Kind, Node: u.Node, From: u.From, To: u.To, EdgeKind: u.EdgeKind}
		if u.Weight != nil {
			env, err := marshalWeight(u.Weight)
			if err != nil {
				return nil, BatchAddress{}, err
			}
			d.Weight = &env
		}
		doc.Updates = append(doc.Updates, d)
	}

	payload, err := cas.CanonicalJSON(doc)
	if err != nil {
		return nil, BatchAddress{}, fmt.Errorf("encoding rebase batch: %w", err)
	}
	return payload, BatchAddress(cas.HashBytes(payload)), nil
}

// DecodeBatch reconstructs a batch from its canonical byte form.
func DecodeBatch(payload []byte) (*RebaseBatch, error) {
	var doc batchDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decoding rebase batch: %w", err)
	}
	if doc.Version > Version || doc.Version < 1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	batch := &RebaseBatch{From: doc.From, To: doc.To}
	for _, d := range doc.Updates {
		u := graph.Update{Kind: d.Kind, Node: d.Node, From: d.From, To: d.To, EdgeKind: d.EdgeKind}
		if d.Weight != nil {
			w, err := unmarshalWeight(*d.Weight)
			if err != nil {
				return nil, err
			}
			u.Weight = migrateWeight(doc.Version, w)
		}
		batch.Updates = append(batch.Updates, u)
	}
	return batch, nil
}

// WriteBatch persists a batch and returns its address.
func WriteBatch(ctx context.Context, s store.ContentStore, batch *RebaseBatch) (BatchAddress, error) {
	payload, addr, err := EncodeBatch(batch)
	if err != nil {
		return BatchAddress{}, err
	}
	if _, err := s.Put(ctx, payload); err != nil {
		return BatchAddress{}, fmt.Errorf("writing rebase batch: %w", err)
	}
	return addr, nil
}

// LoadBatch fetches and reconstructs a batch.
func LoadBatch(ctx context.Context, s store.ContentStore, addr BatchAddress) (*RebaseBatch, error) {
	payload, ok, err := s.Get(ctx, cas.ContentHash(addr))
	if err != nil {
		return nil, fmt.Errorf("loading rebase batch %s: %w", addr, err)
	}
	if !ok {
		return nil, fmt.Errorf("loading rebase batch %s: %w", addr, ErrBatchNotFound)
	}
	return DecodeBatch(payload)
}
