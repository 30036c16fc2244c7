package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type childForm uint8

const (
	childrenAbsent childForm = iota
	childrenList
	childrenLiteral
)

// Children is exactly one of: an ordered list of child ids, a single
// literal text child, or absent.
type Children struct {
	ids     []ID
	literal string
	form    childForm
}

// NoChildren marks a leaf.
func NoChildren() Children {
	return Children{}
}

// ChildIDs returns the list form. An empty call still yields a present,
// empty list, which is distinct from NoChildren.
func ChildIDs(ids ...ID) Children {
	if ids == nil {
		ids = []ID{}
	}
	return Children{ids: ids, form: childrenList}
}

// LiteralChild returns the literal-text form.
func LiteralChild(text string) Children {
	return Children{literal: text, form: childrenLiteral}
}

// Present reports whether the node has any children value at all.
func (c Children) Present() bool { return c.form != childrenAbsent }

// IDs returns the child ids of the list form, nil otherwise.
func (c Children) IDs() []ID {
	if c.form != childrenList {
		return nil
	}
	return c.ids
}

// Literal returns the text of the literal form.
func (c Children) Literal() (string, bool) {
	return c.literal, c.form == childrenLiteral
}

// ChildrenFrom converts a loosely typed decoded value (JSON, YAML,
// redis hash) into Children: nil is absent, a string is a literal child,
// a list of strings or integers is an id list.
func ChildrenFrom(v any) (Children, error) {
	switch t := v.(type) {
	case nil:
		return NoChildren(), nil
	case string:
		return LiteralChild(t), nil
	case []ID:
		return ChildIDs(t...), nil
	case []string:
		ids := make([]ID, len(t))
		for i, s := range t {
			ids[i] = ID(s)
		}
		return ChildIDs(ids...), nil
	case []any:
		ids := make([]ID, 0, len(t))
		for i, elem := range t {
			id, err := idFrom(elem)
			if err != nil {
				return Children{}, fmt.Errorf("children[%d]: %w", i, err)
			}
			ids = append(ids, id)
		}
		return ChildIDs(ids...), nil
	default:
		return Children{}, fmt.Errorf("unsupported children value %T", v)
	}
}

func idFrom(v any) (ID, error) {
	switch t := v.(type) {
	case string:
		return ID(t), nil
	case int:
		return ID(strconv.Itoa(t)), nil
	case int64:
		return ID(strconv.FormatInt(t, 10)), nil
	case float64:
		return ID(strconv.FormatFloat(t, 'f', -1, 64)), nil
	case json.Number:
		return ID(t.String()), nil
	default:
		return "", fmt.Errorf("unsupported child id %T", v)
	}
}

// MarshalJSON encodes the three forms as null, a string, or an array.
func (c Children) MarshalJSON() ([]byte, error) {
	switch c.form {
	case childrenList:
		return json.Marshal(c.ids)
	case childrenLiteral:
		return json.Marshal(c.literal)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, a string, or an array of ids.
func (c *Children) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decoding children: %w", err)
	}
	parsed, err := ChildrenFrom(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
