package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/treesnap/pkg/timeutil"
)

// renderHistory renders the archived export list.
func renderHistory(m *Model) string {
	if len(m.history) == 0 {
		empty := emptyStateStyle.Render(
			"No exports recorded.\n\n" +
				"Exports are archived automatically once they finish.")
		return lipgloss.Place(
			m.width,
			m.height-3, // minus header + footer
			lipgloss.Center,
			lipgloss.Center,
			empty,
		)
	}

	title := panelTitleStyle.Render("History")
	count := dimStyle.Render(fmt.Sprintf("  %d exports", len(m.history)))

	lines := []string{title + count, ""}

	// Visible range for scrolling
	maxVisible := m.height - 6
	if maxVisible < 5 {
		maxVisible = 5
	}

	startIdx := 0
	if m.selectedHistory >= maxVisible {
		startIdx = m.selectedHistory - maxVisible + 1
	}
	endIdx := minInt(startIdx+maxVisible, len(m.history))

	for i := startIdx; i < endIdx; i++ {
		s := m.history[i]

		dot := dimStyle.Render("○")
		if m.snapshot != nil && s.ID == m.snapshot.ID {
			dot = historyDotStyle.Render("●")
		}

		content := fmt.Sprintf("%s  node %s  %s  %s  %d calls  %s",
			dot,
			s.Root,
			dimStyle.Render(shortID(s.ID, 8)),
			dimStyle.Render(timeutil.FormatTimestamp(s.CreatedAt)),
			s.Calls.Total(),
			dimStyle.Render(timeutil.FormatDuration(s.Duration)),
		)

		style := historyItemStyle
		if i == m.selectedHistory {
			style = historySelectedStyle
		}
		lines = append(lines, style.Width(m.width-4).Render(content))
	}

	return strings.Join(lines, "\n")
}
