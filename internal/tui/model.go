package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/treesnap/internal/analysis"
	"github.com/Mr-Dark-debug/treesnap/internal/database"
	"github.com/Mr-Dark-debug/treesnap/internal/export"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
	"github.com/Mr-Dark-debug/treesnap/pkg/timeutil"
)

// ────────────────────────────────────────────────────────────
// Pane focuses
// ────────────────────────────────────────────────────────────

// Pane represents which UI pane currently has keyboard focus.
type Pane int

const (
	PaneMarkup Pane = iota
	PaneDetail
	PaneDiff
)

// ────────────────────────────────────────────────────────────
// Collaborators
// ────────────────────────────────────────────────────────────

// Exporter produces snapshots. *export.Exporter satisfies it.
type Exporter interface {
	Export(ctx context.Context, root tree.ID) (*export.Snapshot, error)
	Cancel()
}

// Archive reads recorded exports.
type Archive interface {
	ListExports(ctx context.Context, filter database.ExportFilter) ([]*export.Snapshot, error)
	GetExport(ctx context.Context, id string) (*export.Snapshot, error)
}

// StatsSource computes tree statistics without contacting the runtime.
type StatsSource interface {
	Stats(ctx context.Context, root tree.ID) (*analysis.TreeStats, error)
}

// Option configures a Model.
type Option func(*Model)

// WithArchive enables the history list and the diff pane.
func WithArchive(a Archive) Option {
	return func(m *Model) { m.archive = a }
}

// WithStats enables the tree statistics section of the detail pane.
func WithStats(s StatsSource) Option {
	return func(m *Model) { m.statsSource = s }
}

// ────────────────────────────────────────────────────────────
// Model
// ────────────────────────────────────────────────────────────

// Model is the root BubbleTea model for the snapshot viewer.
// State is organized by concern; rendering is delegated
// to component functions in separate files.
type Model struct {
	exporter    Exporter
	archive     Archive
	statsSource StatsSource
	root        tree.ID

	// Data
	snapshot *export.Snapshot
	previous *export.Snapshot
	lines    []string
	diff     []diffLine
	stats    *analysis.TreeStats
	history  []*export.Snapshot

	// Export in flight
	seq       int
	exporting bool

	// UI state
	activePane      Pane
	scrollOffset    int
	diffScroll      int
	selectedHistory int
	width           int
	height          int
	showHistory     bool
	searchMode      bool
	searchQuery     string
	matchLine       int

	// Status
	statusMsg string
	err       error
}

// NewModel creates a viewer that exports the subtree under root.
func NewModel(exporter Exporter, root tree.ID, opts ...Option) Model {
	m := Model{
		exporter:  exporter,
		root:      root,
		exporting: true,
		matchLine: -1,
		statusMsg: "Exporting...",
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// ────────────────────────────────────────────────────────────
// Messages
// ────────────────────────────────────────────────────────────

type exportDoneMsg struct {
	seq  int
	snap *export.Snapshot
	err  error
}
type statsLoadedMsg *analysis.TreeStats
type historyLoadedMsg []*export.Snapshot
type archivedLoadedMsg *export.Snapshot
type previousLoadedMsg struct {
	current string
	prev    *export.Snapshot
}
type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// ────────────────────────────────────────────────────────────
// Init
// ────────────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.runExport(m.seq), m.loadStats())
}

func (m Model) runExport(seq int) tea.Cmd {
	exporter, root := m.exporter, m.root
	return func() tea.Msg {
		snap, err := exporter.Export(context.Background(), root)
		return exportDoneMsg{seq: seq, snap: snap, err: err}
	}
}

func (m Model) loadStats() tea.Cmd {
	if m.statsSource == nil {
		return nil
	}
	source, root := m.statsSource, m.root
	return func() tea.Msg {
		stats, err := source.Stats(context.Background(), root)
		if err != nil {
			return errMsg{err}
		}
		return statsLoadedMsg(stats)
	}
}

func (m Model) loadHistory() tea.Cmd {
	archive := m.archive
	return func() tea.Msg {
		list, err := archive.ListExports(context.Background(), database.ExportFilter{Limit: 100})
		if err != nil {
			return errMsg{err}
		}
		return historyLoadedMsg(list)
	}
}

func (m Model) loadArchived(id string) tea.Cmd {
	archive := m.archive
	return func() tea.Msg {
		snap, err := archive.GetExport(context.Background(), id)
		if err != nil {
			return errMsg{err}
		}
		return archivedLoadedMsg(snap)
	}
}

// loadPrevious finds the export of the same root recorded before snap.
func (m Model) loadPrevious(snap *export.Snapshot) tea.Cmd {
	if m.archive == nil || snap == nil {
		return nil
	}
	archive := m.archive
	return func() tea.Msg {
		ctx := context.Background()
		root := snap.Root
		list, err := archive.ListExports(ctx, database.ExportFilter{Root: &root, Limit: 100})
		if err != nil {
			return errMsg{err}
		}
		prevID := previousID(list, snap.ID)
		if prevID == "" {
			return previousLoadedMsg{current: snap.ID}
		}
		prev, err := archive.GetExport(ctx, prevID)
		if err != nil {
			return errMsg{err}
		}
		return previousLoadedMsg{current: snap.ID, prev: prev}
	}
}

// previousID returns the id listed after id in a most-recent-first list,
// or the first other id when id is not listed.
func previousID(list []*export.Snapshot, id string) string {
	for i, s := range list {
		if s.ID == id {
			if i+1 < len(list) {
				return list[i+1].ID
			}
			return ""
		}
	}
	for _, s := range list {
		if s.ID != id {
			return s.ID
		}
	}
	return ""
}

// ────────────────────────────────────────────────────────────
// Update
// ────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case exportDoneMsg:
		if msg.seq != m.seq {
			// A newer export owns the view.
			return m, nil
		}
		m.exporting = false
		if msg.err != nil {
			switch {
			case errors.Is(msg.err, export.ErrSuperseded):
				return m, nil
			case errors.Is(msg.err, context.Canceled):
				m.statusMsg = "Export cancelled"
				return m, nil
			}
			m.err = msg.err
			m.statusMsg = fmt.Sprintf("Error: %v", msg.err)
			return m, nil
		}
		m.showSnapshot(msg.snap)
		m.statusMsg = fmt.Sprintf("%d kinds  %d bridge calls  %s",
			len(msg.snap.Kinds), msg.snap.Calls.Total(),
			timeutil.FormatDuration(msg.snap.Duration))
		return m, m.loadPrevious(msg.snap)

	case archivedLoadedMsg:
		snap := (*export.Snapshot)(msg)
		m.showSnapshot(snap)
		m.showHistory = false
		m.statusMsg = fmt.Sprintf("Archived export %s  %s",
			shortID(snap.ID, 8), timeutil.RelativeTime(snap.CreatedAt))
		return m, m.loadPrevious(snap)

	case previousLoadedMsg:
		if m.snapshot == nil || msg.current != m.snapshot.ID {
			return m, nil
		}
		m.previous = msg.prev
		m.diff = nil
		if msg.prev != nil {
			m.diff = diffLines(splitLines(msg.prev.Text), m.lines)
		}
		m.diffScroll = 0
		return m, nil

	case statsLoadedMsg:
		m.stats = (*analysis.TreeStats)(msg)
		return m, nil

	case historyLoadedMsg:
		m.history = []*export.Snapshot(msg)
		m.selectedHistory = 0
		if len(m.history) > 0 {
			m.statusMsg = fmt.Sprintf("%d exports", len(m.history))
		} else {
			m.statusMsg = "No exports"
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		m.statusMsg = fmt.Sprintf("Error: %v", msg.err)
		return m, nil
	}

	return m, nil
}

// showSnapshot makes snap the viewed export.
func (m *Model) showSnapshot(snap *export.Snapshot) {
	m.snapshot = snap
	m.lines = splitLines(snap.Text)
	m.previous = nil
	m.diff = nil
	m.scrollOffset = 0
	m.matchLine = -1
	m.err = nil
}

// startExport supersedes any export in flight.
func (m Model) startExport() (Model, tea.Cmd) {
	m.seq++
	m.exporting = true
	m.statusMsg = "Exporting..."
	return m, tea.Batch(m.runExport(m.seq), m.loadStats())
}

// handleKey routes keyboard input based on current mode.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// ── Search mode ──

	if m.searchMode {
		switch key {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.searchMode = false
			m.searchQuery = ""
		case "enter":
			m.searchMode = false
			m.findNext()
		case "backspace":
			if len(m.searchQuery) > 0 {
				m.searchQuery = m.searchQuery[:len(m.searchQuery)-1]
			}
		default:
			if len(key) == 1 {
				m.searchQuery += key
			}
		}
		return m, nil
	}

	// ── Global ──

	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		if !m.showHistory {
			m.activePane = (m.activePane + 1) % 3
		}
		return m, nil

	case "shift+tab":
		if !m.showHistory {
			m.activePane = (m.activePane + 2) % 3
		}
		return m, nil

	case "esc":
		m.showHistory = false
		return m, nil

	case "/":
		m.searchMode = true
		m.searchQuery = ""
		return m, nil

	case "n":
		m.findNext()
		return m, nil

	case "r":
		return m.startExport()

	case "c":
		if m.exporting {
			m.exporter.Cancel()
			m.statusMsg = "Cancelling..."
		}
		return m, nil

	case "h":
		if m.archive == nil {
			m.statusMsg = "No archive configured"
			return m, nil
		}
		m.showHistory = !m.showHistory
		if m.showHistory {
			return m, m.loadHistory()
		}
		return m, nil
	}

	// ── History list ──

	if m.showHistory {
		switch key {
		case "j", "down":
			if m.selectedHistory < len(m.history)-1 {
				m.selectedHistory++
			}
		case "k", "up":
			if m.selectedHistory > 0 {
				m.selectedHistory--
			}
		case "enter":
			if m.selectedHistory < len(m.history) {
				return m, m.loadArchived(m.history[m.selectedHistory].ID)
			}
		}
		return m, nil
	}

	// ── Pane-specific ──

	switch m.activePane {
	case PaneMarkup:
		switch key {
		case "j", "down":
			if m.scrollOffset < len(m.lines)-1 {
				m.scrollOffset++
			}
		case "k", "up":
			if m.scrollOffset > 0 {
				m.scrollOffset--
			}
		case "g":
			m.scrollOffset = 0
		case "G":
			m.scrollOffset = maxInt(len(m.lines)-1, 0)
		}

	case PaneDetail:
		// Detail is read-only.

	case PaneDiff:
		switch key {
		case "j", "down":
			if m.diffScroll < len(m.diff)-1 {
				m.diffScroll++
			}
		case "k", "up":
			if m.diffScroll > 0 {
				m.diffScroll--
			}
		}
	}

	return m, nil
}

// findNext moves to the next markup line containing the search query,
// wrapping around at the end.
func (m *Model) findNext() {
	if m.searchQuery == "" || len(m.lines) == 0 {
		return
	}
	for i := 1; i <= len(m.lines); i++ {
		idx := (m.matchLine + i) % len(m.lines)
		if idx < 0 {
			idx += len(m.lines)
		}
		if strings.Contains(m.lines[idx], m.searchQuery) {
			m.matchLine = idx
			m.scrollOffset = idx
			m.activePane = PaneMarkup
			m.statusMsg = fmt.Sprintf("match at line %d", idx+1)
			return
		}
	}
	m.statusMsg = fmt.Sprintf("no match for %q", m.searchQuery)
}

// ────────────────────────────────────────────────────────────
// View
// ────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := renderHeader(&m)
	footer := renderFooter(&m)

	bodyHeight := m.height - 2 // header + footer

	var body string
	if m.showHistory {
		body = renderHistory(&m)
	} else {
		body = m.renderMainLayout(bodyHeight)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// renderMainLayout assembles the three-pane viewer.
func (m Model) renderMainLayout(totalHeight int) string {
	// Responsive: collapse to single pane on narrow terminals
	if m.width < 60 {
		return m.renderCompactLayout(totalHeight)
	}

	leftWidth := m.width * 60 / 100
	rightWidth := m.width - leftWidth
	topHeight := totalHeight * 65 / 100
	bottomHeight := totalHeight - topHeight

	markup := renderMarkupPanel(&m, leftWidth, topHeight)
	detail := renderDetailPanel(&m, rightWidth, topHeight)
	diff := renderDiffPanel(&m, m.width, bottomHeight)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, markup, detail)
	return lipgloss.JoinVertical(lipgloss.Left, topRow, diff)
}

// renderCompactLayout is used when the terminal is narrow (< 60 cols).
// Only the focused pane is shown.
func (m Model) renderCompactLayout(totalHeight int) string {
	switch m.activePane {
	case PaneDetail:
		return renderDetailPanel(&m, m.width, totalHeight)
	case PaneDiff:
		return renderDiffPanel(&m, m.width, totalHeight)
	default:
		return renderMarkupPanel(&m, m.width, totalHeight)
	}
}
