// Package mcp exposes exports and tree statistics as MCP tools, so coding
// agents can snapshot a running UI.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Mr-Dark-debug/treesnap/internal/analysis"
	"github.com/Mr-Dark-debug/treesnap/internal/database"
	"github.com/Mr-Dark-debug/treesnap/internal/export"
	"github.com/Mr-Dark-debug/treesnap/internal/logging"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

const exportsURI = "treesnap://exports"

// Archive lists recorded exports.
type Archive interface {
	ListExports(ctx context.Context, filter database.ExportFilter) ([]*export.Snapshot, error)
}

// Server wraps an exporter and exposes it as an MCP server.
type Server struct {
	exporter  *export.Exporter
	analyzer  *analysis.Analyzer
	archive   Archive
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithArchive exposes recent exports as a resource.
func WithArchive(a Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new MCP server exporting from store.
func NewServer(exporter *export.Exporter, store tree.Store, version string, opts ...Option) *Server {
	s := &Server{
		exporter:  exporter,
		analyzer:  analysis.NewAnalyzer(store),
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("treesnap", version),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	if s.archive != nil {
		s.registerResources()
	}
	return s
}

// ServeStdio serves on stdin and stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	// TOOL: export_native_tree
	exportTool := mcp.NewTool("export_native_tree",
		mcp.WithDescription("Export the native component subtree under a node as markup with a require header."),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Id of the subtree root")),
	)
	s.mcpServer.AddTool(exportTool, s.handleExport)

	// TOOL: tree_stats
	statsTool := mcp.NewTool("tree_stats",
		mcp.WithDescription("Count nodes, placeholders and predicted bridge calls under a node without contacting the runtime."),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Id of the subtree root")),
		mcp.WithOutputSchema[analysis.TreeStats](),
	)
	s.mcpServer.AddTool(statsTool, mcp.NewStructuredToolHandler(s.handleStats))
}

func (s *Server) handleExport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID, err := request.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := s.exporter.Export(ctx, tree.ID(nodeID))
	if err != nil {
		s.logger.Warn("mcp export failed", "node", nodeID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
	}
	return mcp.NewToolResultText(snap.Text), nil
}

func (s *Server) handleStats(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (analysis.TreeStats, error) {
	nodeID, _ := args["node_id"].(string)
	if nodeID == "" {
		return analysis.TreeStats{}, fmt.Errorf("node_id is required")
	}

	stats, err := s.analyzer.Stats(ctx, tree.ID(nodeID))
	if err != nil {
		return analysis.TreeStats{}, fmt.Errorf("stats failed: %w", err)
	}
	return *stats, nil
}

func (s *Server) registerResources() {
	// EXPOSE: treesnap://exports
	s.mcpServer.AddResource(mcp.NewResource(exportsURI, "Recent Exports",
		mcp.WithMIMEType("application/json"),
	), s.readExports)
}

func (s *Server) readExports(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	list, err := s.archive.ListExports(ctx, database.ExportFilter{Limit: 20})
	if err != nil {
		return nil, fmt.Errorf("listing exports: %w", err)
	}
	jsonBytes, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      exportsURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
