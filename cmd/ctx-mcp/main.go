// cmd/ctx-mcp exposes the graph's two read-only query surfaces over
// MCP stdio, grounded directly on the teacher's cmd/quaero-mcp: one
// mcp.Tool + server.ToolHandlerFunc pair per operation, registered on
// a server.NewMCPServer and served with server.ServeStdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/ctxpipe/internal/graphdb"
)

func main() {
	graphPath := flag.String("graph", "./data/graph.db", "Path to the shared graph store")
	flag.Parse()

	logger := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	db, err := graphdb.Open(context.Background(), logger, graphdb.DefaultConfig(*graphPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open graph store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	mcpServer := server.NewMCPServer("ctxpipe", "1.0.0", server.WithToolCapabilities(true))

	mcpServer.AddTool(createSearchObjectsTool(), handleSearchObjects(db, logger))
	mcpServer.AddTool(createCompleteRuleTool(), handleCompleteRule())

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
