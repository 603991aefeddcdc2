package graph

import (
	"encoding/json"
	"fmt"

	"wsgraph/internal/cas"
	"wsgraph/internal/id"
)

// NodeKind discriminates the closed set of node weight variants.
type NodeKind string

const (
	KindRoot           NodeKind = "Root"
	KindContent        NodeKind = "Content"
	KindProp           NodeKind = "Prop"
	KindAttributeValue NodeKind = "AttributeValue"
	KindComponent      NodeKind = "Component"
	KindFunc           NodeKind = "Func"
	KindInputSocket    NodeKind = "InputSocket"
	KindOutputSocket   NodeKind = "OutputSocket"
	KindCategory       NodeKind = "Category"
	KindOrdering       NodeKind = "Ordering"
)

// CategoryNodeKind names the singleton category nodes hung off the root.
type CategoryNodeKind string

const (
	CategoryComponent           CategoryNodeKind = "Component"
	CategoryFunc                CategoryNodeKind = "Func"
	CategorySchema              CategoryNodeKind = "Schema"
	CategoryModule              CategoryNodeKind = "Module"
	CategorySecret              CategoryNodeKind = "Secret"
	CategoryDependentValueRoots CategoryNodeKind = "DependentValueRoots"
)

// NodeWeight is the typed payload of a graph node. Implementations form a
// closed set; use the As* helpers to downcast.
type NodeWeight interface {
	ID() id.ID
	LineageID() id.ID
	Kind() NodeKind
	// ContentHash covers the weight's identity and payload. Any payload
	// mutation changes it.
	ContentHash() cas.ContentHash

	clone() NodeWeight
	hashFields() map[string]interface{}
}

// WrongNodeWeightKindError reports a typed downcast against a weight of a
// different kind. It indicates a caller bug and is never retried.
type WrongNodeWeightKindError struct {
	Want NodeKind
	Got  NodeKind
}

func (e *WrongNodeWeightKindError) Error() string {
	return fmt.Sprintf("node weight is %s, not %s", e.Got, e.Want)
}

func mustHash(fields map[string]interface{}) cas.ContentHash {
	h, err := cas.HashJSON(fields)
	if err != nil {
		// The hash field maps contain only strings, bools, ids, and hashes;
		// marshaling them cannot fail.
		panic(fmt.Sprintf("hashing node weight: %v", err))
	}
	return h
}

type Base struct {
	Id      id.ID `json:"id"`
	Lineage id.ID `json:"lineageId"`
}

func (b Base) ID() id.ID        { return b.Id }
func (b Base) LineageID() id.ID { return b.Lineage }

func (b Base) baseFields(kind NodeKind) map[string]interface{} {
	return map[string]interface{}{
		"kind":      string(kind),
		"id":        b.Id.String(),
		"lineageId": b.Lineage.String(),
	}
}

// RootNodeWeight is the graph root. There is exactly one per graph.
type RootNodeWeight struct {
	Base
}

func NewRootNodeWeight() *RootNodeWeight {
	i := id.New()
	return &RootNodeWeight{Base{Id: i, Lineage: i}}
}

func (w *RootNodeWeight) Kind() NodeKind { return KindRoot }
func (w *RootNodeWeight) hashFields() map[string]interface{} {
	return w.baseFields(KindRoot)
}
func (w *RootNodeWeight) ContentHash() cas.ContentHash { return mustHash(w.hashFields()) }
func (w *RootNodeWeight) clone() NodeWeight {
	c := *w
	return &c
}

// ContentNodeWeight is a generic opaque payload: the payload itself lives in
// the content store, the weight carries its address.
type ContentNodeWeight struct {
	Base
	ContentKind string          `json:"contentKind"`
	Address     cas.ContentHash `json:"address"`
}

func NewContentNodeWeight(contentKind string, address cas.ContentHash) *ContentNodeWeight {
	i := id.New()
	return &ContentNodeWeight{
		Base:        Base{Id: i, Lineage: i},
		ContentKind: contentKind,
		Address:     address,
	}
}

func (w *ContentNodeWeight) Kind() NodeKind { return KindContent }
func (w *ContentNodeWeight) hashFields() map[string]interface{} {
	f := w.baseFields(KindContent)
	f["contentKind"] = w.ContentKind
	f["address"] = w.Address.String()
	return f
}
func (w *ContentNodeWeight) ContentHash() cas.ContentHash { return mustHash(w.hashFields()) }
func (w *ContentNodeWeight) clone() NodeWeight {
	c := *w
	return &c
}

// SetAddress points the weight at a new content store payload.
func (w *ContentNodeWeight) SetAddress(address cas.ContentHash) {
	w.Address = address
}

// PropNodeWeight describes one prop in a schema variant's prop tree.
type PropNodeWeight struct {
	Base
	Name     string `json:"name"`
	PropKind string `json:"propKind"`
}

func NewPropNodeWeight(name, propKind string) *PropNodeWeight {
	i := id.New()
	return &PropNodeWeight{
		Base:     Base{Id: i, Lineage: i},
		Name:     name,
		PropKind: propKind,
	}
}

func (w *PropNodeWeight) Kind() NodeKind { return KindProp }
func (w *PropNodeWeight) hashFields() map[string]interface{} {
	f := w.baseFields(KindProp)
	f["name"] = w.Name
	f["propKind"] = w.PropKind
	return f
}
func (w *PropNodeWeight) ContentHash() cas.ContentHash { return mustHash(w.hashFields()) }
func (w *PropNodeWeight) clone() NodeWeight {
	c := *w
	return &c
}

// AttributeValueNodeWeight holds a resolved attribute value. A nil Value is
// the null value.
type AttributeValueNodeWeight struct {
	Base
	Value json.RawMessage `json:"value,omitempty"`
}

func NewAttributeValueNodeWeight(value json.RawMessage) *AttributeValueNodeWeight {
	i := id.New()
	return &AttributeValueNodeWeight{
		Base:  Base{Id: i, Lineage: i},
		Value: value,
	}
}

func (w *AttributeValueNodeWeight) Kind() NodeKind { return KindAttributeValue }
func (w *AttributeValueNodeWeight) hashFields() map[string]interface{} {
	f := w.baseFields(KindAttributeValue)
	f["value"] = string(w.Value)
	return f
}
func (w *AttributeValueNodeWeight) ContentHash() cas.ContentHash { return mustHash(w.hashFields()) }
func (w *AttributeValueNodeWeight) clone() NodeWeight {
	c := *w
	if w.Value != nil {
		c.Value = append(json.RawMessage(nil), w.Value...)
	}
	return &c
}

// SetValue replaces the resolved value. nil sets the null value.
func (w *AttributeValueNodeWeight) SetValue(value json.RawMessage) {
	w.Value = value
}

// ComponentNodeWeight marks a component. ToDelete flags a component that is
// marked for deletion but still present in the graph.
type ComponentNodeWeight struct {
	Base
	Name     string `json:"name"`
	ToDelete bool   `json:"toDelete"`
}

func NewComponentNodeWeight(name string) *ComponentNodeWeight {
	i := id.New()
	return &ComponentNodeWeight{
		Base: Base{Id: i, Lineage: i},
		Name: name,
	}
}

func (w *ComponentNodeWeight) Kind() NodeKind { return KindComponent }
func (w *ComponentNodeWeight) hashFields() map[string]interface{} {
	f := w.baseFields(KindComponent)
	f["name"] = w.Name
	f["toDelete"] = w.ToDelete
	return f
}
func (w *ComponentNodeWeight) ContentHash() cas.ContentHash { return mustHash(w.hashFields()) }
func (w *ComponentNodeWeight) clone() NodeWeight {
	c := *w
	return &c
}

// SetToDelete marks or unmarks the component for deletion.
func (w *ComponentNodeWeight) SetToDelete(toDelete bool) {
	w.ToDelete = toDelete
}

// FuncNodeWeight describes a function definition.
type FuncNodeWeight struct {
	Base
	Name     string `json:"name"`
	FuncKind string `json:"funcKind"`
}

func NewFuncNodeWeight(name, funcKind string) *FuncNodeWeight {
	i := id.New()
	return &FuncNodeWeight{
		Base:     Base{Id: i, Lineage: i},
		Name:     name,
		FuncKind: funcKind,
	}
}

func (w *FuncNodeWeight) Kind() NodeKind { return KindFunc }
func (w *FuncNodeWeight) hashFields() map[string]interface{} {
	f := w.baseFields(KindFunc)
	f["name"] = w.Name
	f["funcKind"] = w.FuncKind
	return f
}
func (w *FuncNodeWeight) ContentHash() cas.ContentHash { return mustHash(w.hashFields()) }
func (w *FuncNodeWeight) clone() NodeWeight {
	c := *w
	return &c
}

// InputSocketNodeWeight describes an input socket on a schema variant.
type InputSocketNodeWeight struct {
	Base
	Name  string `json:"name"`
	Arity string `json:"arity"`
}

func NewInputSocketNodeWeight(name, arity string) *InputSocketNodeWeight {
	i := id.New()
	return &InputSocketNodeWeight{
		Base:  Base{Id: i, Lineage: i},
		Name:  name,
		Arity: arity,
	}
}

func (w *InputSocketNodeWeight) Kind() NodeKind { return KindInputSocket }
func (w *InputSocketNodeWeight) hashFields() map[string]interface{} {
	f := w.baseFields(KindInputSocket)
	f["name"] = w.Name
	f["arity"] = w.Arity
	return f
}
func (w *InputSocketNodeWeight) ContentHash() cas.ContentHash { return mustHash(w.hashFields()) }
func (w *InputSocketNodeWeight) clone() NodeWeight {
	c := *w
	return &c
}

// OutputSocketNodeWeight describes an output socket on a schema variant.
type OutputSocketNodeWeight struct {
	Base
	Name string `json:"name"`
}

func NewOutputSocketNodeWeight(name string) *OutputSocketNodeWeight {
	i := id.New()
	return &OutputSocketNodeWeight{
		Base: Base{Id: i, Lineage: i},
		Name: name,
	}
}

func (w *OutputSocketNodeWeight) Kind() NodeKind { return KindOutputSocket }
func (w *OutputSocketNodeWeight) hashFields() map[string]interface{} {
	f := w.baseFields(KindOutputSocket)
	f["name"] = w.Name
	return f
}
func (w *OutputSocketNodeWeight) ContentHash() cas.ContentHash { return mustHash(w.hashFields()) }
func (w *OutputSocketNodeWeight) clone() NodeWeight {
	c := *w
	return &c
}

// CategoryNodeWeight is a singleton marker node, one per CategoryNodeKind,
// hung directly off the root.
type CategoryNodeWeight struct {
	Base
	Category CategoryNodeKind `json:"category"`
}

func NewCategoryNodeWeight(category CategoryNodeKind) *CategoryNodeWeight {
	i := id.New()
	return &CategoryNodeWeight{
		Base:     Base{Id: i, Lineage: i},
		Category: category,
	}
}

func (w *CategoryNodeWeight) Kind() NodeKind { return KindCategory }
func (w *CategoryNodeWeight) hashFields() map[string]interface{} {
	f := w.baseFields(KindCategory)
	f["category"] = string(w.Category)
	return f
}
func (w *CategoryNodeWeight) ContentHash() cas.ContentHash { return mustHash(w.hashFields()) }
func (w *CategoryNodeWeight) clone() NodeWeight {
	c := *w
	return &c
}

// OrderingNodeWeight holds the explicit child sequence for an ordered
// container. It is the single source of truth for order.
type OrderingNodeWeight struct {
	Base
	Order []id.ID `json:"order"`
}

func NewOrderingNodeWeight() *OrderingNodeWeight {
	i := id.New()
	return &OrderingNodeWeight{Base: Base{Id: i, Lineage: i}}
}

func (w *OrderingNodeWeight) Kind() NodeKind { return KindOrdering }
func (w *OrderingNodeWeight) hashFields() map[string]interface{} {
	order := make([]interface{}, len(w.Order))
	for i, item := range w.Order {
		order[i] = item.String()
	}
	f := w.baseFields(KindOrdering)
	f["order"] = order
	return f
}
func (w *OrderingNodeWeight) ContentHash() cas.ContentHash { return mustHash(w.hashFields()) }
func (w *OrderingNodeWeight) clone() NodeWeight {
	c := *w
	c.Order = append([]id.ID(nil), w.Order...)
	return &c
}

// Append adds an item to the end of the sequence if not already present.
func (w *OrderingNodeWeight) Append(item id.ID) {
	for _, existing := range w.Order {
		if existing == item {
			return
		}
	}
	w.Order = append(w.Order, item)
}

// Remove drops an item from the sequence.
func (w *OrderingNodeWeight) Remove(item id.ID) {
	kept := w.Order[:0]
	for _, existing := range w.Order {
		if existing != item {
			kept = append(kept, existing)
		}
	}
	w.Order = kept
}

// SetOrder replaces the whole sequence.
func (w *OrderingNodeWeight) SetOrder(order []id.ID) {
	w.Order = append([]id.ID(nil), order...)
}

// AsOrdering downcasts a weight to an ordering weight.
func AsOrdering(w NodeWeight) (*OrderingNodeWeight, error) {
	o, ok := w.(*OrderingNodeWeight)
	if !ok {
		return nil, &WrongNodeWeightKindError{Want: KindOrdering, Got: w.Kind()}
	}
	return o, nil
}

// AsAttributeValue downcasts a weight to an attribute value weight.
func AsAttributeValue(w NodeWeight) (*AttributeValueNodeWeight, error) {
	av, ok := w.(*AttributeValueNodeWeight)
	if !ok {
		return nil, &WrongNodeWeightKindError{Want: KindAttributeValue, Got: w.Kind()}
	}
	return av, nil
}

// AsComponent downcasts a weight to a component weight.
func AsComponent(w NodeWeight) (*ComponentNodeWeight, error) {
	c, ok := w.(*ComponentNodeWeight)
	if !ok {
		return nil, &WrongNodeWeightKindError{Want: KindComponent, Got: w.Kind()}
	}
	return c, nil
}

// AsCategory downcasts a weight to a category weight.
func AsCategory(w NodeWeight) (*CategoryNodeWeight, error) {
	c, ok := w.(*CategoryNodeWeight)
	if !ok {
		return nil, &WrongNodeWeightKindError{Want: KindCategory, Got: w.Kind()}
	}
	return c, nil
}

// AsContent downcasts a weight to a content weight.
func AsContent(w NodeWeight) (*ContentNodeWeight, error) {
	c, ok := w.(*ContentNodeWeight)
	if !ok {
		return nil, &WrongNodeWeightKindError{Want: KindContent, Got: w.Kind()}
	}
	return c, nil
}

// AsFunc downcasts a weight to a func weight.
func AsFunc(w NodeWeight) (*FuncNodeWeight, error) {
	f, ok := w.(*FuncNodeWeight)
	if !ok {
		return nil, &WrongNodeWeightKindError{Want: KindFunc, Got: w.Kind()}
	}
	return f, nil
}
