package tui

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/treesnap/internal/database"
	"github.com/Mr-Dark-debug/treesnap/internal/export"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

type fakeExporter struct {
	cancels atomic.Int32
}

func (f *fakeExporter) Export(_ context.Context, root tree.ID) (*export.Snapshot, error) {
	return &export.Snapshot{ID: "new", Root: root, Text: "<View />\n"}, nil
}

func (f *fakeExporter) Cancel() { f.cancels.Add(1) }

type fakeArchive struct {
	snaps []*export.Snapshot // most recent first
}

func (a *fakeArchive) ListExports(_ context.Context, filter database.ExportFilter) ([]*export.Snapshot, error) {
	var out []*export.Snapshot
	for _, s := range a.snaps {
		if filter.Root == nil || *filter.Root == s.Root {
			out = append(out, s)
		}
	}
	return out, nil
}

func (a *fakeArchive) GetExport(_ context.Context, id string) (*export.Snapshot, error) {
	for _, s := range a.snaps {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, database.ErrExportNotFound
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func snapshot(id, text string) *export.Snapshot {
	return &export.Snapshot{ID: id, Root: "1", Text: text, Kinds: []string{"View"}, CreatedAt: time.Now()}
}

func TestDiffLines(t *testing.T) {
	d := diffLines([]string{"a", "b", "c"}, []string{"a", "c", "d"})
	assert.Equal(t, []diffLine{
		{diffSame, "a"},
		{diffDel, "b"},
		{diffSame, "c"},
		{diffAdd, "d"},
	}, d)

	added, removed := diffCounts(d)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	assert.Empty(t, diffLines(nil, nil))
	assert.Equal(t, []diffLine{{diffAdd, "x"}}, diffLines(nil, []string{"x"}))
}

func TestPreviousID(t *testing.T) {
	list := []*export.Snapshot{{ID: "c"}, {ID: "b"}, {ID: "a"}}
	assert.Equal(t, "b", previousID(list, "c"))
	assert.Equal(t, "a", previousID(list, "b"))
	assert.Equal(t, "", previousID(list, "a"))
	assert.Equal(t, "c", previousID(list, "z"))
	assert.Equal(t, "", previousID(nil, "z"))
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(""))
	assert.Equal(t, []string{"a", "", "b"}, splitLines("a\n\nb\n"))
}

func TestInitExports(t *testing.T) {
	m := NewModel(&fakeExporter{}, "1")
	assert.True(t, m.exporting)

	cmd := m.Init()
	require.NotNil(t, cmd)

	m, _ = update(t, m, exportDoneMsg{seq: 0, snap: snapshot("s1", "<View />\n")})
	assert.False(t, m.exporting)
	require.NotNil(t, m.snapshot)
	assert.Equal(t, []string{"<View />"}, m.lines)
}

func TestStaleExportIsIgnored(t *testing.T) {
	m := NewModel(&fakeExporter{}, "1")

	m, cmd := update(t, m, runes("r"))
	require.NotNil(t, cmd)
	assert.Equal(t, 1, m.seq)

	m, _ = update(t, m, exportDoneMsg{seq: 0, snap: snapshot("old", "<Old />\n")})
	assert.Nil(t, m.snapshot)
	assert.True(t, m.exporting)

	m, _ = update(t, m, exportDoneMsg{seq: 1, snap: snapshot("new", "<New />\n")})
	require.NotNil(t, m.snapshot)
	assert.Equal(t, "new", m.snapshot.ID)
}

func TestCancelKey(t *testing.T) {
	exp := &fakeExporter{}
	m := NewModel(exp, "1")

	m, _ = update(t, m, runes("c"))
	assert.Equal(t, int32(1), exp.cancels.Load())

	m, _ = update(t, m, exportDoneMsg{seq: 0, err: context.Canceled})
	assert.False(t, m.exporting)
	assert.Nil(t, m.err)
	assert.Equal(t, "Export cancelled", m.statusMsg)

	// Nothing in flight.
	_, _ = update(t, m, runes("c"))
	assert.Equal(t, int32(1), exp.cancels.Load())
}

func TestExportError(t *testing.T) {
	m := NewModel(&fakeExporter{}, "1")
	m, _ = update(t, m, exportDoneMsg{seq: 0, err: tree.ErrNodeNotFound})
	assert.ErrorIs(t, m.err, tree.ErrNodeNotFound)
	assert.Contains(t, m.statusMsg, "node not found")
}

func TestSearch(t *testing.T) {
	m := NewModel(&fakeExporter{}, "1")
	m, _ = update(t, m, exportDoneMsg{seq: 0, snap: snapshot("s1",
		"const View = require('View');\n\n<View>\n  <View flex={1} />\n</View>\n")})

	m, _ = update(t, m, runes("/"))
	require.True(t, m.searchMode)
	for _, r := range "flex" {
		m, _ = update(t, m, runes(string(r)))
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.searchMode)
	assert.Equal(t, 3, m.matchLine)
	assert.Equal(t, 3, m.scrollOffset)

	m, _ = update(t, m, runes("n"))
	assert.Equal(t, 3, m.matchLine, "single match wraps to itself")
}

func TestDiffAgainstPreviousExport(t *testing.T) {
	archive := &fakeArchive{snaps: []*export.Snapshot{
		snapshot("s2", "<View>\n  <Text />\n</View>\n"),
		snapshot("s1", "<View>\n</View>\n"),
	}}
	m := NewModel(&fakeExporter{}, "1", WithArchive(archive))

	m, cmd := update(t, m, exportDoneMsg{seq: 0, snap: archive.snaps[0]})
	require.NotNil(t, cmd)

	m, _ = update(t, m, cmd())
	require.NotNil(t, m.previous)
	assert.Equal(t, "s1", m.previous.ID)
	added, removed := diffCounts(m.diff)
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, removed)
}

func TestHistory(t *testing.T) {
	archive := &fakeArchive{snaps: []*export.Snapshot{
		snapshot("s2", "<B />\n"),
		snapshot("s1", "<A />\n"),
	}}
	m := NewModel(&fakeExporter{}, "1", WithArchive(archive))

	m, cmd := update(t, m, runes("h"))
	require.True(t, m.showHistory)
	m, _ = update(t, m, cmd())
	require.Len(t, m.history, 2)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.selectedHistory)

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.False(t, m.showHistory)
	require.NotNil(t, m.snapshot)
	assert.Equal(t, "s1", m.snapshot.ID)
}

func TestHistoryWithoutArchive(t *testing.T) {
	m := NewModel(&fakeExporter{}, "1")
	m, cmd := update(t, m, runes("h"))
	assert.Nil(t, cmd)
	assert.False(t, m.showHistory)
}

func TestViewRenders(t *testing.T) {
	m := NewModel(&fakeExporter{}, "1")
	assert.Equal(t, "Initializing...", m.View())

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = update(t, m, exportDoneMsg{seq: 0, snap: snapshot("s1", "<View />\n")})
	out := m.View()
	assert.Contains(t, out, "TREESNAP")
	assert.Contains(t, out, "View")

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 40, Height: 20})
	assert.NotEmpty(t, m.View())
}

func TestColorizeLineKeepsText(t *testing.T) {
	for _, line := range []string{
		"const View = require('View');",
		"<View flex={1}>",
		"  <RawText text=\"hi\" />",
		"</View>",
		"  hello",
		"",
	} {
		assert.Contains(t, colorizeLine(line), trimSpace(line))
	}
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	return s
}
