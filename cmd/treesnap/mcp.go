package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/treesnap/internal/mcp"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Serves exports as MCP tools over standard input and output, so coding
agents can snapshot the running UI.

Tools:
- export_native_tree: markup of the native subtree under a node
- tree_stats: subtree statistics without contacting the runtime`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := background(cmd)

		s, err := openSession(ctx, cmd, sessionOptions{bridge: true})
		if err != nil {
			return err
		}
		defer s.Close()

		// Ensure logs don't corrupt JSON-RPC on Stdout
		log.SetOutput(os.Stderr)

		var opts []mcp.Option
		opts = append(opts, mcp.WithLogger(s.logger))
		if s.archive != nil {
			opts = append(opts, mcp.WithArchive(s.archive))
		}
		srv := mcp.NewServer(s.exporter(), s.store, Version, opts...)

		s.logger.Info("starting MCP server (stdio)")
		return srv.ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
