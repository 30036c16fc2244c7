// Package value classifies the loosely typed property values a runtime
// hands over, deciding once per value which variant it is.
//
// Values arrive as decoded JSON: nil, bool, string, numbers, []any and
// map[string]any. Two kinds of mapping are special and are recognised by
// marker keys:
//
//	{"__type__": "function", "__name__": "onPress"}        function marker
//	{"__inspected__": false, "__type__": "object", ...}    unresolved placeholder
package value

import (
	"errors"
	"reflect"
)

// Marker keys carried by special mappings.
const (
	TypeKey      = "__type__"
	InspectedKey = "__inspected__"
	NameKey      = "__name__"
	MetaKey      = "__meta__"
)

// ErrValueCycle is returned when a collection is reachable from itself.
var ErrValueCycle = errors.New("value contains a reference cycle")

// Kind is the tagged variant of a value.
type Kind uint8

const (
	Primitive Kind = iota
	Function
	Placeholder
	List
	Map
)

func (k Kind) String() string {
	switch k {
	case Primitive:
		return "primitive"
	case Function:
		return "function"
	case Placeholder:
		return "placeholder"
	case List:
		return "list"
	case Map:
		return "map"
	default:
		return "unknown"
	}
}

// Classify returns the variant of v.
func Classify(v any) Kind {
	switch t := v.(type) {
	case []any:
		return List
	case map[string]any:
		if shape, _ := t[TypeKey].(string); shape == "function" {
			return Function
		}
		if inspected, ok := t[InspectedKey].(bool); ok && !inspected {
			return Placeholder
		}
		return Map
	default:
		return Primitive
	}
}

// IsFunction reports whether v is a function marker.
func IsFunction(v any) bool {
	return Classify(v) == Function
}

// DeclaredShape returns the shape a placeholder says its real value has
// ("object", "array", ...), or "" when it does not say.
func DeclaredShape(placeholder map[string]any) string {
	shape, _ := placeholder[TypeKey].(string)
	return shape
}

// Merge overlays an inspect response on the placeholder it resolves.
// Response fields win. Placeholder markers are dropped from the result
// unless the merged value turns out to be a function marker. Neither input
// is modified.
func Merge(placeholder, response map[string]any) map[string]any {
	merged := make(map[string]any, len(placeholder)+len(response))
	for k, v := range placeholder {
		merged[k] = v
	}
	for k, v := range response {
		merged[k] = v
	}
	if shape, _ := merged[TypeKey].(string); shape == "function" {
		delete(merged, InspectedKey)
		return merged
	}
	delete(merged, TypeKey)
	delete(merged, InspectedKey)
	delete(merged, NameKey)
	delete(merged, MetaKey)
	return merged
}

// StripMarkers returns m without its marker keys. m is returned as is
// when it carries none.
func StripMarkers(m map[string]any) map[string]any {
	if !hasMarker(m) {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if !isMarkerKey(k) {
			out[k] = v
		}
	}
	return out
}

func hasMarker(m map[string]any) bool {
	for k := range m {
		if isMarkerKey(k) {
			return true
		}
	}
	return false
}

func isMarkerKey(k string) bool {
	switch k {
	case TypeKey, InspectedKey, NameKey, MetaKey:
		return true
	}
	return false
}

// Identity returns a pointer identifying the backing storage of a
// non-empty list or a map, for cycle detection.
func Identity(v any) (uintptr, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	case reflect.Slice:
		if rv.Len() == 0 {
			return 0, false
		}
		return rv.Pointer(), true
	}
	return 0, false
}
