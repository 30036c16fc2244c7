package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var exportCmd = &cobra.Command{
	Use:   "export [node-id]",
	Short: "Print the native subtree under a node as markup",
	Long: `Resolves every prop of the subtree under node-id through the runtime
bridge and prints the native components as indented markup, preceded by a
sorted require header. With --fixture the node id defaults to the
fixture's root.

Ctrl+C cancels the export in flight.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(background(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cmd, sessionOptions{bridge: true})
		if err != nil {
			return err
		}
		defer s.Close()

		root, err := s.rootArg(args)
		if err != nil {
			return err
		}

		snap, err := s.exporter().Export(ctx, root)
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out != "" {
			if err := os.WriteFile(out, []byte(snap.Text), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			s.logger.Info("export written", "path", out, "id", snap.ID)
			return nil
		}

		color, _ := cmd.Flags().GetString("color")
		if !useColor(color) {
			fmt.Print(snap.Text)
			return nil
		}
		rendered, err := renderMarkdown("```jsx\n" + snap.Text + "```\n")
		if err != nil {
			return err
		}
		fmt.Print(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("out", "o", "", "Write the markup to a file instead of stdout")
	exportCmd.Flags().String("color", "auto", "Highlight output: auto, always or never")
}

// useColor resolves the --color flag against whether stdout is a terminal.
func useColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}

// renderMarkdown renders markdown for the terminal.
func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(0),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

// background is the context for commands that do not block on the bridge.
func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
