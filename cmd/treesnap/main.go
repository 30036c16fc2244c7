// Command treesnap is the command-line interface for exporting UI component trees.
//
// Usage:
//
//	treesnap <command> [flags]
//
// Commands:
//
//	export    Print the native subtree under a node as markup
//	stats     Summarize a subtree without contacting the runtime
//	view      Browse exports in the terminal viewer
//	history   List archived exports
//	push      Send a fixture tree to the mirror daemon
//	mcp       Serve exports as MCP tools on stdio
//	version   Print version information
package main

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	Execute()
}
