// Package analysis computes static statistics for a subtree before it is
// exported: what it contains, how deep its markup nests and how much
// bridge traffic an export of it will cause at least.
//
// Everything here reads the mirrored tree only; the runtime is never
// contacted, so the placeholder figures are a lower bound (values revealed
// by an inspect may hold further placeholders).
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Mr-Dark-debug/treesnap/internal/tree"
	"github.com/Mr-Dark-debug/treesnap/internal/value"
)

// Analyzer walks subtrees of a store.
type Analyzer struct {
	store tree.Store
}

// NewAnalyzer creates a new analysis engine backed by the given store.
func NewAnalyzer(store tree.Store) *Analyzer {
	return &Analyzer{store: store}
}

// ============================================================
// Tree Statistics
// ============================================================

// NameCount is the number of Native nodes carrying one component name.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TreeStats summarizes a subtree.
type TreeStats struct {
	Root            tree.ID           `json:"root"`
	TotalNodes      int               `json:"total_nodes"`
	KindCounts      map[tree.Kind]int `json:"kind_counts"`
	Names           []NameCount       `json:"names"`
	MarkupDepth     int               `json:"markup_depth"`
	Placeholders    int               `json:"placeholders"`
	ArrayShaped     int               `json:"array_shaped_placeholders"`
	FunctionProps   int               `json:"function_props"`
	LiteralChildren int               `json:"literal_children"`
	MissingChildren []tree.ID         `json:"missing_children,omitempty"`
	PredictedCalls  int               `json:"predicted_bridge_calls"`
}

// Stats walks the subtree under root. Nodes reachable along several paths
// are counted once, as an export resolves them once.
func (a *Analyzer) Stats(ctx context.Context, root tree.ID) (*TreeStats, error) {
	w := &walker{
		ctx:      ctx,
		store:    a.store,
		visited:  make(map[tree.ID]bool),
		ancestry: make(map[tree.ID]bool),
		names:    make(map[string]int),
		stats: &TreeStats{
			Root:       root,
			KindCounts: make(map[tree.Kind]int),
		},
	}
	if err := w.node(root, 0, true); err != nil {
		return nil, err
	}

	s := w.stats
	for name, n := range w.names {
		s.Names = append(s.Names, NameCount{Name: name, Count: n})
	}
	sort.Slice(s.Names, func(i, j int) bool {
		if s.Names[i].Count != s.Names[j].Count {
			return s.Names[i].Count > s.Names[j].Count
		}
		return s.Names[i].Name < s.Names[j].Name
	})
	// One style request per Native node plus one inspect per placeholder.
	s.PredictedCalls = s.KindCounts[tree.KindNative] + s.Placeholders
	return s, nil
}

type walker struct {
	ctx      context.Context
	store    tree.Store
	visited  map[tree.ID]bool
	ancestry map[tree.ID]bool
	names    map[string]int
	stats    *TreeStats
}

// node visits id at the given markup depth. Pass-through nodes do not add
// a level, matching the serializer.
func (w *walker) node(id tree.ID, depth int, isRoot bool) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	if w.ancestry[id] {
		return fmt.Errorf("analyzing node %s: %w", id, tree.ErrTreeCycle)
	}
	if w.visited[id] {
		return nil
	}

	n, err := w.store.Get(w.ctx, id)
	if err != nil {
		if !isRoot && errors.Is(err, tree.ErrNodeNotFound) {
			w.stats.MissingChildren = append(w.stats.MissingChildren, id)
			return nil
		}
		return fmt.Errorf("reading node %s: %w", id, err)
	}
	w.visited[id] = true

	s := w.stats
	s.TotalNodes++
	s.KindCounts[n.Kind]++

	childDepth := depth
	switch {
	case n.Kind == tree.KindText:
		s.MarkupDepth = max(s.MarkupDepth, depth+1)
		return nil
	case n.Kind == tree.KindNative:
		w.names[n.Name]++
		s.MarkupDepth = max(s.MarkupDepth, depth+1)
		w.props(n.Props)
		childDepth = depth + 1
	case n.Kind.PassThrough():
	default:
		return nil
	}

	if _, ok := n.Children.Literal(); ok {
		s.LiteralChildren++
		s.MarkupDepth = max(s.MarkupDepth, childDepth+1)
		return nil
	}

	w.ancestry[id] = true
	defer delete(w.ancestry, id)
	for _, child := range n.Children.IDs() {
		if err := w.node(child, childDepth, false); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) props(props *tree.Props) {
	if props == nil {
		return
	}
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == "children" {
			continue
		}
		if value.IsFunction(pair.Value) {
			w.stats.FunctionProps++
			continue
		}
		w.value(pair.Value, make(map[uintptr]bool))
	}
}

// value counts the placeholders inside v. A placeholder's own contents
// are unknown until inspected, so the walk stops there.
func (w *walker) value(v any, seen map[uintptr]bool) {
	if id, ok := value.Identity(v); ok {
		if seen[id] {
			return
		}
		seen[id] = true
		defer delete(seen, id)
	}

	switch value.Classify(v) {
	case value.Placeholder:
		w.stats.Placeholders++
		if value.DeclaredShape(v.(map[string]any)) == "array" {
			w.stats.ArrayShaped++
		}
	case value.List:
		for _, elem := range v.([]any) {
			w.value(elem, seen)
		}
	case value.Map:
		for _, elem := range v.(map[string]any) {
			w.value(elem, seen)
		}
	}
}

// ============================================================
// Report
// ============================================================

// Report is the complete output of `treesnap stats`.
type Report struct {
	GeneratedAt string     `json:"generated_at"`
	Stats       *TreeStats `json:"stats"`
	Warnings    []string   `json:"warnings"`
}

// Analyze gathers the statistics for root and derives warnings.
func (a *Analyzer) Analyze(ctx context.Context, root tree.ID) (*Report, error) {
	stats, err := a.Stats(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("gathering tree stats: %w", err)
	}
	report := &Report{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Stats:       stats,
	}

	if stats.ArrayShaped > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d placeholder(s) declare an array shape; exporting this subtree will fail.", stats.ArrayShaped))
	}
	if len(stats.MissingChildren) > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d child id(s) are not in the mirror and will be skipped.", len(stats.MissingChildren)))
	}
	if stats.KindCounts[tree.KindNative] == 0 {
		report.Warnings = append(report.Warnings,
			"No Native nodes: the export will only contain text.")
	}
	return report, nil
}

// FormatReport generates a human-readable markdown report.
func FormatReport(report *Report) string {
	var b strings.Builder
	s := report.Stats

	b.WriteString("# Tree Statistics\n\n")
	fmt.Fprintf(&b, "**Root:** `%s`\n", s.Root)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", report.GeneratedAt)

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("|--------|-------|\n")
	fmt.Fprintf(&b, "| Nodes | %d |\n", s.TotalNodes)
	fmt.Fprintf(&b, "| Markup Depth | %d |\n", s.MarkupDepth)
	fmt.Fprintf(&b, "| Placeholders | %d |\n", s.Placeholders)
	fmt.Fprintf(&b, "| Function Props | %d |\n", s.FunctionProps)
	fmt.Fprintf(&b, "| Literal Children | %d |\n", s.LiteralChildren)
	fmt.Fprintf(&b, "| Predicted Bridge Calls | >= %d |\n\n", s.PredictedCalls)

	kinds := make([]string, 0, len(s.KindCounts))
	for k := range s.KindCounts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	b.WriteString("## Kinds\n\n")
	b.WriteString("| Kind | Count |\n")
	b.WriteString("|------|-------|\n")
	for _, k := range kinds {
		fmt.Fprintf(&b, "| %s | %d |\n", k, s.KindCounts[tree.Kind(k)])
	}
	b.WriteString("\n")

	if len(s.Names) > 0 {
		b.WriteString("## Components\n\n")
		b.WriteString("| Name | Count |\n")
		b.WriteString("|------|-------|\n")
		for _, n := range s.Names {
			fmt.Fprintf(&b, "| %s | %d |\n", n.Name, n.Count)
		}
		b.WriteString("\n")
	}

	if len(report.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range report.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}

	return b.String()
}
