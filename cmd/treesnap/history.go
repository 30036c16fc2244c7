package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/treesnap/internal/database"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
	"github.com/Mr-Dark-debug/treesnap/pkg/jsonutil"
	"github.com/Mr-Dark-debug/treesnap/pkg/timeutil"
)

var historyCmd = &cobra.Command{
	Use:   "history [export-id]",
	Short: "List archived exports, or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := background(cmd)

		s, err := openSession(ctx, cmd, sessionOptions{})
		if err != nil {
			return err
		}
		defer s.Close()
		if s.archive == nil {
			return errors.New("the export archive needs store.driver sqlite")
		}

		if len(args) == 1 {
			snap, err := s.archive.GetExport(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Print(snap.Text)
			return nil
		}

		filter := database.ExportFilter{}
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		if root, _ := cmd.Flags().GetString("root"); root != "" {
			id := tree.ID(root)
			filter.Root = &id
		}
		list, err := s.archive.ListExports(ctx, filter)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			b, err := jsonutil.Marshal(list)
			if err != nil {
				return err
			}
			fmt.Println(jsonutil.PrettyJSON(string(b)))
			return nil
		}

		if len(list) == 0 {
			fmt.Println("No exports recorded.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tROOT\tCREATED\tDURATION\tCALLS\tKINDS")
		for _, snap := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
				snap.ID,
				jsonutil.TruncateString(string(snap.Root), 24),
				timeutil.FormatTimestamp(snap.CreatedAt),
				timeutil.FormatDuration(snap.Duration),
				snap.Calls.Total(),
				len(snap.Kinds),
			)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().String("root", "", "Only list exports of this node")
	historyCmd.Flags().Int("limit", 20, "Maximum number of exports to list")
	historyCmd.Flags().Bool("json", false, "Print the list as JSON")
}
