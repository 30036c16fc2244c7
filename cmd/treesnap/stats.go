package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/treesnap/internal/analysis"
	"github.com/Mr-Dark-debug/treesnap/pkg/jsonutil"
)

var statsCmd = &cobra.Command{
	Use:   "stats [node-id]",
	Short: "Summarize a subtree without contacting the runtime",
	Long: `Walks the mirrored subtree under node-id and reports node counts,
placeholders, markup depth and the number of bridge calls an export would
make. The runtime is not contacted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := background(cmd)

		s, err := openSession(ctx, cmd, sessionOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		root, err := s.rootArg(args)
		if err != nil {
			return err
		}

		report, err := analysis.NewAnalyzer(s.store).Analyze(ctx, root)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "json":
			b, err := jsonutil.Marshal(report)
			if err != nil {
				return err
			}
			fmt.Println(jsonutil.PrettyJSON(string(b)))
		case "markdown":
			md := analysis.FormatReport(report)
			color, _ := cmd.Flags().GetString("color")
			if !useColor(color) {
				fmt.Print(md)
				return nil
			}
			rendered, err := renderMarkdown(md)
			if err != nil {
				return err
			}
			fmt.Print(rendered)
		default:
			return fmt.Errorf("unknown format %q: use markdown or json", format)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().String("format", "markdown", "Output format: markdown, json")
	statsCmd.Flags().String("color", "auto", "Render markdown: auto, always or never")
}
