package tui

import (
	"fmt"
	"strings"
)

// renderMarkup renders the exported text in the left pane.
func renderMarkup(m *Model, width, height int) string {
	titleStyle := panelTitleDimStyle
	if m.activePane == PaneMarkup {
		titleStyle = panelTitleStyle
	}

	title := titleStyle.Render("Markup")
	if m.snapshot == nil {
		msg := "Waiting for the first export."
		if !m.exporting {
			msg = "No export yet. Press r to export."
		}
		return title + "\n\n" + emptyStateStyle.Render(msg)
	}
	title += dimStyle.Render(fmt.Sprintf("  %d lines", len(m.lines)))

	lines := []string{title, ""}

	contentHeight := height - 3
	if contentHeight < 1 {
		contentHeight = 1
	}
	start := clamp(m.scrollOffset, 0, maxInt(len(m.lines)-1, 0))
	end := minInt(start+contentHeight, len(m.lines))

	gutter := len(fmt.Sprint(len(m.lines)))
	for i := start; i < end; i++ {
		num := lineNumberStyle.Render(fmt.Sprintf("%*d ", gutter, i+1))
		text := truncate(m.lines[i], width-gutter-1)
		if i == m.matchLine {
			lines = append(lines, num+markupMatchStyle.Render(text))
			continue
		}
		lines = append(lines, num+colorizeLine(text))
	}

	// Scroll indicator
	if len(m.lines) > contentHeight {
		pct := 0
		if len(m.lines) > 1 {
			pct = start * 100 / (len(m.lines) - 1)
		}
		lines = append(lines, dimStyle.Render(
			fmt.Sprintf(" %d/%d (%d%%)", start+1, len(m.lines), pct)))
	}

	return strings.Join(lines, "\n")
}

// renderMarkupPanel wraps the markup view in a styled panel.
func renderMarkupPanel(m *Model, width, height int) string {
	content := renderMarkup(m, width-4, height-2)

	style := panelStyle
	if m.activePane == PaneMarkup {
		style = panelActiveStyle
	}

	return style.Width(width).Height(height).Render(content)
}

// colorizeLine styles one line of exported markup.
func colorizeLine(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	indent := line[:len(line)-len(trimmed)]

	switch {
	case trimmed == "":
		return line
	case strings.HasPrefix(trimmed, "const "):
		return markupHeaderStyle.Render(line)
	case strings.HasPrefix(trimmed, "<RawText"):
		return indent + markupTextTagStyle.Render(trimmed)
	case strings.HasPrefix(trimmed, "<"):
		tag, rest := splitTag(trimmed)
		return indent + markupTagStyle.Render(tag) + markupAttrStyle.Render(rest)
	default:
		// Literal text children.
		return indent + markupAttrStyle.Render(trimmed)
	}
}

// splitTag separates "<Name" or "</Name>" from the attributes that follow.
func splitTag(s string) (tag, rest string) {
	end := strings.IndexAny(s, " >/")
	if strings.HasPrefix(s, "</") {
		return s, ""
	}
	if end <= 0 {
		return s, ""
	}
	// "<" is at index 0, so a "/" found first belongs to "/>".
	return s[:end], s[end:]
}

// splitLines breaks exported text into display lines.
func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
