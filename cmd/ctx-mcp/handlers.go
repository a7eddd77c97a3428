package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/rules"
)

func handleSearchObjects(db *graphdb.DB, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || query == "" {
			return textResult("Error: query parameter is required"), nil
		}

		limit := request.GetInt("limit", 20)
		if limit > 200 {
			limit = 200
		}

		compiled, err := rules.ParseToSQL(query, rules.Search)
		if err != nil {
			return textResult(fmt.Sprintf("Rule error: %v", err)), nil
		}

		rows, err := db.Search(ctx, compiled.SQL, compiled.Args, limit)
		if err != nil {
			logger.Error().Err(err).Str("query", query).Msg("search_objects failed")
			return textResult(fmt.Sprintf("Search error: %v", err)), nil
		}

		return textResult(formatSearchResults(query, rows)), nil
	}
}

func handleCompleteRule() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text := request.GetString("text", "")
		suggestions, err := rules.GetCodeCompletion(text)
		if err != nil {
			return textResult(fmt.Sprintf("Completion error: %v", err)), nil
		}
		if len(suggestions) == 0 {
			return textResult("No suggestions."), nil
		}
		return textResult(strings.Join(suggestions, ", ")), nil
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}
}

func formatSearchResults(query string, rows []graphdb.ObjectRow) string {
	if len(rows) == 0 {
		return fmt.Sprintf("No objects matched: %s", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d object(s) matched `%s`:\n\n", len(rows), query)
	for _, r := range rows {
		fmt.Fprintf(&b, "- %s (%s/%s, %d bytes, %s)\n", r.ObjectID, r.ObjectType, r.Org, r.Size, r.Ctime.Format("2006-01-02T15:04:05Z07:00"))
	}
	return b.String()
}
