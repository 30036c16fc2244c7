// Package tui implements the treesnap snapshot viewer.
//
// It exports one subtree, shows the markup next to its manifest and
// tree statistics, and diffs it against the previous archived export
// of the same node. Built with Charmbracelet's BubbleTea and Lipgloss.
//
// Component architecture:
//
//	model.go    root model, message routing, Init/Update
//	theme.go    centralized color + style definitions
//	header.go   top bar and footer with keyboard hints
//	markup.go   exported text with line numbers and search matches
//	detail.go   export manifest, bridge calls, tree statistics
//	diffview.go line diff against the previous export
//	history.go  archived export list
//	helpers.go  truncation, clamping
package tui
