package tui

import (
	"fmt"
	"strings"

	"github.com/Mr-Dark-debug/treesnap/pkg/timeutil"
)

// diffOp marks a line in a line diff.
type diffOp int

const (
	diffSame diffOp = iota
	diffAdd
	diffDel
)

type diffLine struct {
	op   diffOp
	text string
}

// diffLines computes a line diff from old to cur using the longest common
// subsequence.
func diffLines(old, cur []string) []diffLine {
	n, m := len(old), len(cur)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if old[i] == cur[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = maxInt(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	out := make([]diffLine, 0, maxInt(n, m))
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case old[i] == cur[j]:
			out = append(out, diffLine{diffSame, old[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			out = append(out, diffLine{diffDel, old[i]})
			i++
		default:
			out = append(out, diffLine{diffAdd, cur[j]})
			j++
		}
	}
	for ; i < n; i++ {
		out = append(out, diffLine{diffDel, old[i]})
	}
	for ; j < m; j++ {
		out = append(out, diffLine{diffAdd, cur[j]})
	}
	return out
}

// diffCounts returns the number of added and removed lines.
func diffCounts(d []diffLine) (added, removed int) {
	for _, l := range d {
		switch l.op {
		case diffAdd:
			added++
		case diffDel:
			removed++
		}
	}
	return added, removed
}

// renderDiffView renders the change against the previous export (bottom).
func renderDiffView(m *Model, width, height int) string {
	titleStyle := panelTitleDimStyle
	if m.activePane == PaneDiff {
		titleStyle = panelTitleStyle
	}

	title := titleStyle.Render("Changes")

	if m.previous == nil {
		msg := "No earlier export of this node."
		if m.archive == nil {
			msg = "Export archive disabled."
		}
		return title + "\n" + diffContextStyle.Render(msg)
	}

	added, removed := diffCounts(m.diff)
	title += dimStyle.Render(fmt.Sprintf("  since %s  +%d -%d",
		timeutil.RelativeTime(m.previous.CreatedAt), added, removed))
	if added == 0 && removed == 0 {
		return title + "\n" + diffContextStyle.Render("Identical to the previous export.")
	}

	var lines []string
	for _, l := range m.diff {
		text := truncate(l.text, width-2)
		switch l.op {
		case diffAdd:
			lines = append(lines, diffAddStyle.Render("+ "+text))
		case diffDel:
			lines = append(lines, diffDelStyle.Render("- "+text))
		default:
			lines = append(lines, diffContextStyle.Render("  "+text))
		}
	}

	// Apply scroll offset
	contentHeight := height - 2
	if m.diffScroll > 0 && m.diffScroll < len(lines) {
		lines = lines[m.diffScroll:]
	}
	if contentHeight > 0 && len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}

	return title + "\n" + strings.Join(lines, "\n")
}

// renderDiffPanel wraps the diff view in a styled panel.
func renderDiffPanel(m *Model, width, height int) string {
	content := renderDiffView(m, width-4, height-2)

	style := panelStyle
	if m.activePane == PaneDiff {
		style = panelActiveStyle
	}

	return style.Width(width).Height(height).Render(content)
}
