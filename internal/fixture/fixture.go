// Package fixture loads a component tree and canned runtime answers from a
// YAML file, so an export can run without a live runtime.
//
// A fixture looks like:
//
//	root: 1
//	capabilities: {scroll: true}
//	nodes:
//	  - {id: 1, kind: Native, name: View, props: {foo: 1}, children: [2]}
//	  - {id: 2, kind: Text, text: hi}
//	responses:
//	  style:
//	    1: {flex: 1}
//	  inspect:
//	    - {node: 1, path: [props, items], value: {a: 1}}
//
// Prop order in the file is the attribute order of the export.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/Mr-Dark-debug/treesnap/internal/bridge"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

// ErrNoResponse is returned by the canned bridge for an inspect request
// the fixture does not answer.
var ErrNoResponse = errors.New("fixture has no response")

// Fixture is a loaded tree plus the bridge that answers for it.
type Fixture struct {
	Root   tree.ID
	Store  *tree.MemoryStore
	Bridge *Bridge
}

type document struct {
	Root         string            `yaml:"root"`
	Capabilities tree.Capabilities `yaml:"capabilities"`
	Nodes        []yaml.Node       `yaml:"nodes"`
	Responses    struct {
		Style   map[string]any   `yaml:"style"`
		Inspect []map[string]any `yaml:"inspect"`
	} `yaml:"responses"`
}

type nodeRecord struct {
	ID       string `mapstructure:"id"`
	Kind     string `mapstructure:"kind"`
	Name     string `mapstructure:"name"`
	Text     string `mapstructure:"text"`
	Children any    `mapstructure:"children"`
	Props    any    `mapstructure:"props"`
}

type inspectRecord struct {
	Node  string   `mapstructure:"node"`
	Path  []string `mapstructure:"path"`
	Value any      `mapstructure:"value"`
}

// Load reads the fixture at path.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a fixture document.
func Parse(data []byte) (*Fixture, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	store := tree.NewMemoryStore()
	store.SetCapabilities(doc.Capabilities)
	for i := range doc.Nodes {
		n, err := decodeNode(&doc.Nodes[i])
		if err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
		store.Put(n)
	}

	root := tree.ID(doc.Root)
	if root == "" {
		ids := store.IDs()
		if len(ids) == 0 {
			return nil, errors.New("fixture has no nodes")
		}
		root = ids[0]
	}

	b := &Bridge{
		style:   make(map[tree.ID]any, len(doc.Responses.Style)),
		inspect: make(map[string]any, len(doc.Responses.Inspect)),
	}
	for id, v := range doc.Responses.Style {
		b.style[tree.ID(id)] = v
	}
	for i, raw := range doc.Responses.Inspect {
		var rec inspectRecord
		if err := decodeLoose(raw, &rec); err != nil {
			return nil, fmt.Errorf("responses.inspect[%d]: %w", i, err)
		}
		b.inspect[inspectKey(tree.ID(rec.Node), rec.Path)] = rec.Value
	}

	return &Fixture{Root: root, Store: store, Bridge: b}, nil
}

func decodeNode(raw *yaml.Node) (*tree.Node, error) {
	var loose map[string]any
	if err := raw.Decode(&loose); err != nil {
		return nil, err
	}
	var rec nodeRecord
	if err := decodeLoose(loose, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, errors.New("node without id")
	}

	children, err := tree.ChildrenFrom(rec.Children)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", rec.ID, err)
	}

	id := tree.ID(rec.ID)
	kind := tree.Kind(rec.Kind)
	switch kind {
	case tree.KindText:
		return tree.NewText(id, rec.Text), nil
	case tree.KindNative:
		props, err := orderedProps(raw)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", rec.ID, err)
		}
		return tree.NewNative(id, rec.Name, props, children), nil
	default:
		return tree.NewGroup(id, kind, rec.Name, children), nil
	}
}

// orderedProps reads the props mapping of a node straight from the YAML
// tree, keeping the key order of the file.
func orderedProps(n *yaml.Node) (*tree.Props, error) {
	props := tree.NewProps()
	if n.Kind != yaml.MappingNode {
		return props, nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value != "props" {
			continue
		}
		m := n.Content[i+1]
		if m.Tag == "!!null" {
			return props, nil
		}
		if m.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("props must be a mapping, got %s", m.Tag)
		}
		for j := 0; j+1 < len(m.Content); j += 2 {
			var v any
			if err := m.Content[j+1].Decode(&v); err != nil {
				return nil, fmt.Errorf("prop %s: %w", m.Content[j].Value, err)
			}
			props.Set(m.Content[j].Value, v)
		}
	}
	return props, nil
}

func decodeLoose(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func inspectKey(id tree.ID, path []string) string {
	return string(id) + "|" + strings.Join(path, ".")
}

// Bridge answers from the fixture's canned responses.
type Bridge struct {
	style   map[tree.ID]any
	inspect map[string]any
	calls   atomic.Int64
}

var _ bridge.Bridge = (*Bridge)(nil)

// ComputedStyle returns the canned style of id, or nil.
func (b *Bridge) ComputedStyle(ctx context.Context, id tree.ID) (any, error) {
	b.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.style[id], nil
}

// Inspect returns the canned value at path, or a RemoteError wrapping
// ErrNoResponse.
func (b *Bridge) Inspect(ctx context.Context, id tree.ID, path tree.Path) (any, error) {
	b.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := b.inspect[inspectKey(id, path)]
	if !ok {
		return nil, fmt.Errorf("%w: %w", &bridge.RemoteError{
			Topic:   bridge.TopicInspect,
			Node:    id,
			Path:    path,
			Message: "no canned response",
		}, ErrNoResponse)
	}
	return v, nil
}

// Calls returns how many requests the bridge has answered.
func (b *Bridge) Calls() int64 {
	return b.calls.Load()
}
