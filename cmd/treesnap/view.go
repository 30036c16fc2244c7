package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/treesnap/internal/analysis"
	"github.com/Mr-Dark-debug/treesnap/internal/tui"
)

var viewCmd = &cobra.Command{
	Use:   "view [node-id]",
	Short: "Browse exports of a node in the terminal viewer",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := background(cmd)

		s, err := openSession(ctx, cmd, sessionOptions{bridge: true, quiet: true})
		if err != nil {
			return err
		}
		defer s.Close()

		root, err := s.rootArg(args)
		if err != nil {
			return err
		}

		opts := []tui.Option{tui.WithStats(analysis.NewAnalyzer(s.store))}
		if s.archive != nil {
			opts = append(opts, tui.WithArchive(s.archive))
		}
		model := tui.NewModel(s.exporter(), root, opts...)

		p := tea.NewProgram(model, tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)
}
