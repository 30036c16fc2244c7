// Package markup turns a resolved tree into indented, JSX-like text headed by
// one require declaration per distinct kind it contains.
package markup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Mr-Dark-debug/treesnap/internal/resolve"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
	"github.com/Mr-Dark-debug/treesnap/internal/value"
	"github.com/Mr-Dark-debug/treesnap/pkg/jsonutil"
)

// TextKind is the tag emitted for text, always declared in the header.
const TextKind = "RawText"

const indentUnit = "  "

// ErrUnresolved is returned when a Native node has no resolved entry.
var ErrUnresolved = errors.New("native node was not resolved")

// PropsSource looks up the resolved data of a Native node.
// *resolve.Result implements it.
type PropsSource interface {
	Props(id tree.ID) (*resolve.Resolved, bool)
}

// Document is serialized output: the sorted, deduplicated kinds and the
// markup body.
type Document struct {
	Kinds []string
	Body  string
}

// Header returns the declaration block, one line per kind.
func (d *Document) Header() string {
	var b strings.Builder
	for _, k := range d.Kinds {
		fmt.Fprintf(&b, "const %s = require('%s');\n", k, k)
	}
	return b.String()
}

// String returns the header, a blank line and the body.
func (d *Document) String() string {
	return d.Header() + "\n" + d.Body
}

// Serialize renders the subtree under root. Structure comes from store,
// attribute values and styles from props.
func Serialize(ctx context.Context, props PropsSource, store tree.Store, root tree.ID) (*Document, error) {
	s := &serializer{
		ctx:      ctx,
		props:    props,
		store:    store,
		kinds:    map[string]bool{TextKind: true},
		ancestry: make(map[tree.ID]bool),
	}
	if err := s.node(root, 0, true); err != nil {
		return nil, err
	}

	kinds := make([]string, 0, len(s.kinds))
	for k := range s.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return &Document{Kinds: kinds, Body: s.body.String()}, nil
}

type serializer struct {
	ctx      context.Context
	props    PropsSource
	store    tree.Store
	body     strings.Builder
	kinds    map[string]bool
	ancestry map[tree.ID]bool
}

func (s *serializer) line(depth int, text string) {
	s.body.WriteString(strings.Repeat(indentUnit, depth))
	s.body.WriteString(text)
	s.body.WriteByte('\n')
}

func (s *serializer) text(depth int, text string) error {
	attr, err := attribute("text", text)
	if err != nil {
		return err
	}
	s.line(depth, "<"+TextKind+attr+" />")
	return nil
}

func (s *serializer) node(id tree.ID, depth int, isRoot bool) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if s.ancestry[id] {
		return fmt.Errorf("serializing node %s: %w", id, tree.ErrTreeCycle)
	}

	n, err := s.store.Get(s.ctx, id)
	if err != nil {
		if !isRoot && errors.Is(err, tree.ErrNodeNotFound) {
			return nil
		}
		return fmt.Errorf("reading node %s: %w", id, err)
	}

	switch {
	case n.Kind == tree.KindText:
		return s.text(depth, n.Text)
	case n.Kind == tree.KindNative:
		return s.native(n, depth)
	case n.Kind.PassThrough():
		return s.children(n, depth)
	default:
		return nil
	}
}

func (s *serializer) native(n *tree.Node, depth int) error {
	entry, ok := s.props.Props(n.ID)
	if !ok {
		return fmt.Errorf("serializing %s node %s: %w", n.Name, n.ID, ErrUnresolved)
	}
	attrs, err := attributes(entry)
	if err != nil {
		return fmt.Errorf("serializing %s node %s: %w", n.Name, n.ID, err)
	}
	s.kinds[n.Name] = true

	if !n.Children.Present() {
		s.line(depth, "<"+n.Name+attrs+" />")
		return nil
	}
	s.line(depth, "<"+n.Name+attrs+">")
	if err := s.children(n, depth+1); err != nil {
		return err
	}
	s.line(depth, "</"+n.Name+">")
	return nil
}

// children emits the children of n at depth.
func (s *serializer) children(n *tree.Node, depth int) error {
	if literal, ok := n.Children.Literal(); ok {
		return s.text(depth, literal)
	}

	s.ancestry[n.ID] = true
	defer delete(s.ancestry, n.ID)
	for _, child := range n.Children.IDs() {
		if err := s.node(child, depth, false); err != nil {
			return err
		}
	}
	return nil
}

// attributes renders the props of an entry in insertion order, then the
// resolved style.
func attributes(entry *resolve.Resolved) (string, error) {
	var b strings.Builder
	props := entry.Props()
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == resolve.StyleKey || pair.Key == resolve.ChildrenKey {
			continue
		}
		if pair.Value == nil || value.IsFunction(pair.Value) {
			continue
		}
		attr, err := attribute(pair.Key, pair.Value)
		if err != nil {
			return "", err
		}
		b.WriteString(attr)
	}

	if style := entry.Style(); style != nil {
		attr, err := expression("style", style)
		if err != nil {
			return "", err
		}
		b.WriteString(attr)
	}
	return b.String(), nil
}

// attribute renders one ` key=value` pair. Strings are quoted literally
// unless that would be ambiguous, everything else is a JSON expression.
func attribute(key string, v any) (string, error) {
	if s, ok := v.(string); ok && !strings.ContainsAny(s, "\"\n\r") {
		return " " + key + `="` + s + `"`, nil
	}
	return expression(key, v)
}

func expression(key string, v any) (string, error) {
	b, err := jsonutil.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding attribute %s: %w", key, err)
	}
	return " " + key + "={" + string(b) + "}", nil
}
