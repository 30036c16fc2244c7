package resolve

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

// InvariantViolation reports a runtime value that breaks the placeholder
// contract: only mapping-shaped values may be unresolved.
type InvariantViolation struct {
	Node   tree.ID
	Path   tree.Path
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation at node %s, path %s: %s", e.Node, e.Path, e.Reason)
}

// Resolved is the materialized data for one Native node: its computed
// style and its fully expanded properties, in raw insertion order.
//
// Each field is written by exactly one job of the join that created it;
// the mutex only orders those writes against each other.
type Resolved struct {
	mu    sync.Mutex
	style any
	props *tree.Props
}

func newResolved() *Resolved {
	return &Resolved{props: tree.NewProps()}
}

func (r *Resolved) setStyle(v any) {
	r.mu.Lock()
	r.style = v
	r.mu.Unlock()
}

func (r *Resolved) set(key string, v any) {
	r.mu.Lock()
	r.props.Set(key, v)
	r.mu.Unlock()
}

// Style returns the computed style, nil when the runtime reported none.
func (r *Resolved) Style() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.style
}

// Props returns the resolved properties. Callers must treat the mapping as
// read-only.
func (r *Resolved) Props() *tree.Props {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.props
}

// CallStats tallies the bridge calls a join issued.
type CallStats struct {
	Style   int64 `json:"style"`
	Inspect int64 `json:"inspect"`
}

// Total returns the number of bridge calls.
func (c CallStats) Total() int64 { return c.Style + c.Inspect }

type callCounter struct {
	style   atomic.Int64
	inspect atomic.Int64
}

func (c *callCounter) add(kind CallKind) {
	switch kind {
	case CallStyle:
		c.style.Add(1)
	case CallInspect:
		c.inspect.Add(1)
	}
}

func (c *callCounter) snapshot() CallStats {
	return CallStats{Style: c.style.Load(), Inspect: c.inspect.Load()}
}

// Result is the joined outcome of one resolution: an entry per Native node
// plus the nodes the walk read. It is immutable once handed out.
type Result struct {
	Root  tree.ID
	props map[tree.ID]*Resolved
	nodes *tree.MemoryStore
	calls CallStats
}

// Props returns the resolved entry for a Native node.
func (r *Result) Props(id tree.ID) (*Resolved, bool) {
	p, ok := r.props[id]
	return p, ok
}

// Len returns the number of Native entries.
func (r *Result) Len() int { return len(r.props) }

// NativeIDs returns the ids of every resolved Native node, sorted.
func (r *Result) NativeIDs() []tree.ID {
	ids := make([]tree.ID, 0, len(r.props))
	for id := range r.props {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Nodes returns the snapshot of every node the walk read. Serializing from
// it instead of the live store keeps the output consistent with what was
// resolved even if the tree changes meanwhile.
func (r *Result) Nodes() tree.Store { return r.nodes }

// Calls returns the bridge call tally.
func (r *Result) Calls() CallStats { return r.calls }
