package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/treesnap/internal/tree"
	"github.com/Mr-Dark-debug/treesnap/pkg/timeutil"
)

// renderDetail renders the export manifest and tree statistics (right side).
func renderDetail(m *Model, width, height int) string {
	titleStyle := panelTitleDimStyle
	if m.activePane == PaneDetail {
		titleStyle = panelTitleStyle
	}
	title := titleStyle.Render("Detail")

	if m.snapshot == nil && m.stats == nil {
		return title + "\n\n" +
			emptyStateStyle.Render("Nothing exported yet.")
	}

	lines := []string{title, ""}

	// ── Manifest ──

	if snap := m.snapshot; snap != nil {
		lines = append(lines, detailRow("ID", shortID(snap.ID, 18)))
		lines = append(lines, detailRow("Root", string(snap.Root)))
		lines = append(lines, detailRow("Created", timeutil.FormatTimestamp(snap.CreatedAt)))
		lines = append(lines, detailRow("Duration", timeutil.FormatDuration(snap.Duration)))
		lines = append(lines, detailRow("Kinds", truncate(strings.Join(snap.Kinds, ", "), width-8)))

		// ── Bridge calls ──

		total := snap.Calls.Total()
		lines = append(lines, "")
		lines = append(lines, detailSectionStyle.Render("Bridge Calls"))
		lines = append(lines, detailRow("Style", fmt.Sprintf("%d", snap.Calls.Style)))
		lines = append(lines, detailRow("Inspect", fmt.Sprintf("%d", snap.Calls.Inspect)))

		barWidth := minInt(width-6, 50)
		if barWidth > 4 && total > 0 {
			styleW := int(int64(barWidth) * snap.Calls.Style / total)
			inspectW := barWidth - styleW

			bar := callBarStyleBar.Render(strings.Repeat("█", styleW)) +
				callBarInspectStyle.Render(strings.Repeat("█", inspectW))
			stylePct := snap.Calls.Style * 100 / total
			legend := dimStyle.Render(
				fmt.Sprintf("style %d%%  inspect %d%%", stylePct, 100-stylePct))

			lines = append(lines, bar, legend)
		}
	}

	// ── Tree statistics ──

	if s := m.stats; s != nil {
		lines = append(lines, "")
		lines = append(lines, detailSectionStyle.Render("Tree"))
		lines = append(lines, detailRow("Nodes", fmt.Sprintf("%d", s.TotalNodes)))
		lines = append(lines, detailRow("Depth", fmt.Sprintf("%d", s.MarkupDepth)))
		lines = append(lines, detailRow("Placeholders", fmt.Sprintf("%d", s.Placeholders)))
		lines = append(lines, detailRow("Predicted calls", fmt.Sprintf("%d", s.PredictedCalls)))
		if len(s.MissingChildren) > 0 {
			lines = append(lines, detailRow("Missing", fmt.Sprintf("%d", len(s.MissingChildren))))
		}

		barWidth := minInt(width-16, 40)
		if barWidth > 4 && s.TotalNodes > 0 {
			lines = append(lines, "")
			for _, k := range []struct {
				kind  tree.Kind
				color lipgloss.Color
			}{
				{tree.KindNative, colorPurple},
				{tree.KindText, colorCyan},
				{tree.KindComposite, colorGreen},
				{tree.KindWrapper, colorYellow},
			} {
				if n := s.KindCounts[k.kind]; n > 0 {
					lines = append(lines, renderUsageBar(string(k.kind), n, s.TotalNodes, barWidth, k.color))
				}
			}
		}
	}

	// Truncate to available height
	if len(lines) > height {
		lines = lines[:height]
	}

	return strings.Join(lines, "\n")
}

// renderDetailPanel wraps detail in a styled panel.
func renderDetailPanel(m *Model, width, height int) string {
	content := renderDetail(m, width-4, height-2)

	style := panelStyle
	if m.activePane == PaneDetail {
		style = panelActiveStyle
	}

	return style.Width(width).Height(height).Render(content)
}

// ── helpers ──

func detailRow(label, value string) string {
	return detailLabelStyle.Render(label) + "  " + detailValueStyle.Render(value)
}

func renderUsageBar(label string, count, total, barWidth int, color lipgloss.Color) string {
	if total == 0 {
		return ""
	}
	pct := count * 100 / total
	filled := barWidth * count / total
	if filled < 1 && count > 0 {
		filled = 1
	}
	empty := barWidth - filled

	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
		callBarEmptyStyle.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("%-10s %s %d%%", label, bar, pct)
}
