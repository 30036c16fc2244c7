package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderHeader produces the top bar:
//
//	TREESNAP  |  Node 42  |  Export 1b2c3d4e  |  7 kinds
func renderHeader(m *Model) string {
	brand := headerBrandStyle.Render("TREESNAP")
	sep := headerSepStyle.Render(" │ ")

	parts := []string{brand, sep, headerMetaStyle.Render(fmt.Sprintf("Node %s", m.root))}

	if m.snapshot != nil {
		parts = append(parts, sep)
		parts = append(parts, headerMetaStyle.Render(
			fmt.Sprintf("Export %s", shortID(m.snapshot.ID, 8))))
		parts = append(parts, sep)
		parts = append(parts, headerMetaStyle.Render(
			fmt.Sprintf("%d kinds", len(m.snapshot.Kinds))))
	}
	if m.exporting {
		parts = append(parts, sep)
		parts = append(parts, headerMetaStyle.Render("exporting"))
	}

	content := strings.Join(parts, "")

	return headerBarStyle.Width(m.width).Render(content)
}

// renderFooter produces the bottom status bar with keyboard hints.
func renderFooter(m *Model) string {
	var left, right string

	status := statusStyle
	switch {
	case m.err != nil:
		status = statusErrorStyle
	case m.exporting:
		status = statusBusyStyle
	}

	if m.searchMode {
		cursor := searchCursorStyle.Render(" ")
		left = searchBarStyle.Render(fmt.Sprintf("/ %s%s", m.searchQuery, cursor))
		right = renderHints([]hint{
			{"enter", "search"},
			{"esc", "cancel"},
		})
	} else if m.showHistory {
		if m.statusMsg != "" {
			left = status.Render(m.statusMsg)
		}
		right = renderHints([]hint{
			{"↑↓", "navigate"},
			{"enter", "open"},
			{"esc", "back"},
			{"q", "quit"},
		})
	} else {
		if m.statusMsg != "" {
			left = status.Render(m.statusMsg)
		}
		hints := []hint{
			{"↑↓", "scroll"},
			{"tab", "pane"},
			{"r", "export"},
		}
		if m.exporting {
			hints = append(hints, hint{"c", "cancel"})
		}
		hints = append(hints, hint{"/", "search"})
		if m.archive != nil {
			hints = append(hints, hint{"h", "history"})
		}
		hints = append(hints, hint{"q", "quit"})
		right = renderHints(hints)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	bar := left + strings.Repeat(" ", gap) + right
	return lipgloss.NewStyle().
		Background(colorBgSurface).
		Width(m.width).
		Render(bar)
}

type hint struct {
	key  string
	desc string
}

func renderHints(hints []hint) string {
	var parts []string
	for _, h := range hints {
		parts = append(parts,
			hintKeyStyle.Render(h.key)+" "+hintDescStyle.Render(h.desc))
	}
	return strings.Join(parts, hintDescStyle.Render("  "))
}
