package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func createSearchObjectsTool() mcp.Tool {
	return mcp.NewTool("search_objects",
		mcp.WithDescription("Search the object graph using the rule language's search query form"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description(`Rule-language expression, e.g. size > 1000 and @has_symbol("PDF_DOCUMENT")`),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (default: 20, max: 200)"),
		),
	)
}

func createCompleteRuleTool() mcp.Tool {
	return mcp.NewTool("complete_rule",
		mcp.WithDescription("Suggest legal continuations for a possibly-incomplete rule-language expression"),
		mcp.WithString("text",
			mcp.Description("Rule text typed so far (may be empty)"),
		),
	)
}
