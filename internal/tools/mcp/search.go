package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerSearch registers the search tool, a thin wrapper over the
// read-only FTS5 index. Omitted entirely when no search index was
// configured, the way the teacher only registers query_knowledge when a
// knowledge store is present.
func registerSearch(s *server.MCPServer, d *Deps) {
	if d.Search == nil {
		return
	}
	s.AddTool(
		mcp.NewTool("search",
			mcp.WithDescription("Full-text search over inbox messages, reply-needed requests, and design stubs."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Free-text search query")),
			mcp.WithString("category", mcp.Description("Restrict to one category: message, request_topic, response, design")),
			mcp.WithNumber("limit", mcp.Description("Maximum results, default 10")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			query, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			category := optionalString(args, "category", "")
			limit := optionalInt(args, "limit", 10)

			results, err := d.Search.Query(query, category, limit)
			if err != nil {
				return nil, err
			}
			if len(results) == 0 {
				return mcp.NewToolResultText("no results"), nil
			}
			var out string
			for _, r := range results {
				out += fmt.Sprintf("[%s] %s\n%s\n\n", r.Category, r.Title, r.Snippet)
			}
			return mcp.NewToolResultText(out), nil
		},
	)
}
