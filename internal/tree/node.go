// Package tree models the live component tree as the exporter sees it.
//
// Node identity and shape are owned by whatever mirrors the runtime's
// tree (sqlite, redis, a fixture file). Everything in this package is
// read-only from the exporter's point of view.
package tree

import (
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ID identifies a node. Ids are opaque and stable for the life of a node.
type ID string

// Kind is the runtime's classification of a node.
type Kind string

const (
	KindText      Kind = "Text"
	KindNative    Kind = "Native"
	KindComposite Kind = "Composite"
	KindWrapper   Kind = "Wrapper"
	KindSpecial   Kind = "Special"
	KindEmpty     Kind = "Empty"
)

// PassThrough reports whether nodes of this kind group their children
// without contributing a tag of their own. Every kind other than Text,
// Native and Empty does, including kinds this package does not name.
func (k Kind) PassThrough() bool {
	switch k {
	case KindText, KindNative, KindEmpty:
		return false
	}
	return true
}

// Props is a node's raw property mapping. Insertion order is significant:
// it is the order attributes are emitted in.
type Props = orderedmap.OrderedMap[string, any]

// NewProps returns an empty property mapping.
func NewProps() *Props {
	return orderedmap.New[string, any]()
}

// PropsOf builds a property mapping from alternating key/value arguments.
// It panics on an odd argument count or a non-string key.
func PropsOf(kv ...any) *Props {
	if len(kv)%2 != 0 {
		panic("tree.PropsOf: odd argument count")
	}
	p := NewProps()
	for i := 0; i < len(kv); i += 2 {
		p.Set(kv[i].(string), kv[i+1])
	}
	return p
}

// Node is a single element of the component tree.
type Node struct {
	ID       ID       `json:"id"`
	Kind     Kind     `json:"kind"`
	Name     string   `json:"name,omitempty"`
	Children Children `json:"children"`
	Text     string   `json:"text,omitempty"`
	Props    *Props   `json:"props,omitempty"`
}

// NewText returns a text leaf.
func NewText(id ID, text string) *Node {
	return &Node{ID: id, Kind: KindText, Text: text}
}

// NewNative returns a platform-backed node. A nil props is replaced by an
// empty mapping.
func NewNative(id ID, name string, props *Props, children Children) *Node {
	if props == nil {
		props = NewProps()
	}
	return &Node{ID: id, Kind: KindNative, Name: name, Props: props, Children: children}
}

// NewGroup returns a pass-through node of the given kind.
func NewGroup(id ID, kind Kind, name string, children Children) *Node {
	return &Node{ID: id, Kind: kind, Name: name, Children: children}
}

// Path locates a value inside a node, e.g. ["props", "items", "0"].
type Path []string

// Append returns a copy of p extended by elem. The receiver is never
// modified, so sibling paths can share a prefix safely.
func (p Path) Append(elem string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = elem
	return out
}

func (p Path) String() string {
	return strings.Join(p, ".")
}
