package resolve

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/Mr-Dark-debug/treesnap/internal/tree"
	"github.com/Mr-Dark-debug/treesnap/internal/value"
)

// lineage is the chain of collections enclosing the value being resolved.
// It is immutable, so sibling goroutines can share a common prefix.
type lineage struct {
	ptr    uintptr
	parent *lineage
}

func (l *lineage) enter(v any) (*lineage, bool) {
	ptr, ok := value.Identity(v)
	if !ok {
		return l, true
	}
	for cur := l; cur != nil; cur = cur.parent {
		if cur.ptr == ptr {
			return nil, false
		}
	}
	return &lineage{ptr: ptr, parent: l}, true
}

// needsWalk reports whether v can hold anything the bridge must resolve.
func needsWalk(v any) bool {
	switch value.Classify(v) {
	case value.Primitive, value.Function:
		return false
	}
	return true
}

// resolveValue returns a fully materialized copy of v, found at path on
// node id. Placeholders are fetched through the bridge and merged, and
// collections are walked element by element with their nested fetches
// running concurrently. The input is never modified.
func (r *run) resolveValue(ctx context.Context, id tree.ID, path tree.Path, v any, line *lineage) (any, error) {
	switch value.Classify(v) {
	case value.Placeholder:
		return r.inspect(ctx, id, path, v.(map[string]any), line)
	case value.List:
		return r.resolveList(ctx, id, path, v.([]any), line)
	case value.Map:
		return r.resolveMap(ctx, id, path, v.(map[string]any), line)
	default:
		return v, nil
	}
}

func (r *run) inspect(ctx context.Context, id tree.ID, path tree.Path, placeholder map[string]any, line *lineage) (any, error) {
	if value.DeclaredShape(placeholder) == "array" {
		return nil, &InvariantViolation{Node: id, Path: path, Reason: "placeholder declares an array shape"}
	}

	resp, err := r.call(ctx, CallInspect, func(ctx context.Context) (any, error) {
		return r.bridge.Inspect(ctx, id, path)
	})
	if err != nil {
		return nil, fmt.Errorf("inspecting %s on node %s: %w", path, id, err)
	}

	var fields map[string]any
	switch t := resp.(type) {
	case map[string]any:
		fields = t
	case nil:
	case []any:
		return nil, &InvariantViolation{Node: id, Path: path, Reason: "inspect returned an array for a placeholder"}
	default:
		return nil, &InvariantViolation{Node: id, Path: path, Reason: fmt.Sprintf("inspect returned %T, want a mapping", resp)}
	}

	merged := value.Merge(placeholder, fields)
	if value.IsFunction(merged) {
		return merged, nil
	}
	return r.resolveMap(ctx, id, path, merged, line)
}

func (r *run) resolveList(ctx context.Context, id tree.ID, path tree.Path, list []any, line *lineage) (any, error) {
	line, ok := line.enter(list)
	if !ok {
		return nil, fmt.Errorf("resolving %s on node %s: %w", path, id, value.ErrValueCycle)
	}

	out := make([]any, len(list))
	g, gctx := errgroup.WithContext(ctx)
	for i, elem := range list {
		if !needsWalk(elem) {
			out[i] = elem
			continue
		}
		g.Go(func() error {
			v, err := r.resolveValue(gctx, id, path.Append(strconv.Itoa(i)), elem, line)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Functions inside a list keep their slot as null.
	for i, v := range out {
		if value.IsFunction(v) {
			out[i] = nil
		}
	}
	return out, nil
}

func (r *run) resolveMap(ctx context.Context, id tree.ID, path tree.Path, m map[string]any, line *lineage) (any, error) {
	line, ok := line.enter(m)
	if !ok {
		return nil, fmt.Errorf("resolving %s on node %s: %w", path, id, value.ErrValueCycle)
	}
	m = value.StripMarkers(m)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vals := make([]any, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range keys {
		elem := m[k]
		if !needsWalk(elem) {
			vals[i] = elem
			continue
		}
		g.Go(func() error {
			v, err := r.resolveValue(gctx, id, path.Append(k), elem, line)
			if err != nil {
				return err
			}
			vals[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(keys))
	for i, k := range keys {
		if value.IsFunction(vals[i]) {
			continue
		}
		out[k] = vals[i]
	}
	return out, nil
}
