// Package mcptool exposes the pipeline as Model Context Protocol tools.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/pipeline"
	"github.com/kyleking/sqlrag/internal/repair"
)

// Backend is the part of the pipeline the tools use
type Backend interface {
	AskWithRetry(ctx context.Context, question string, opts pipeline.AskOptions) (*pipeline.Answer, error)
	Snapshot() *pipeline.Snapshot
	Ready() error
}

// NewServer creates an MCP server with every tool registered
func NewServer(backend Backend, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"sqlrag",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	RegisterTools(s, backend)

	return s
}

// ServeStdio serves s on stdin and stdout until the client disconnects
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func RegisterTools(s *server.MCPServer, backend Backend) {
	generateTool := mcp.NewTool("generate_sql",
		mcp.WithDescription("Translate a natural-language question into a PostgreSQL query that has been checked against the live schema"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer with SQL"),
		),
		mcp.WithString("template",
			mcp.Description("Prompt template: sql-only (default), explain or no-comments"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Number of schema units to retrieve (default: 5)"),
		),
	)

	describeTool := mcp.NewTool("describe_schema",
		mcp.WithDescription("Show the indexed schema, optionally limited to some tables"),
		mcp.WithArray("tables",
			mcp.Description("Optional table names. If empty, describes every table"),
		),
	)

	s.AddTool(generateTool, GenerateSQLHandler(backend))
	s.AddTool(describeTool, DescribeSchemaHandler(backend))
}

type rejectionResult struct {
	Error    string           `json:"error"`
	Question string           `json:"question"`
	LastSQL  string           `json:"last_sql,omitempty"`
	Attempts int              `json:"attempts"`
	Trail    []repair.Attempt `json:"trail"`
}

// GenerateSQLHandler creates a handler for the generate_sql tool
func GenerateSQLHandler(backend Backend) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := request.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing question parameter: %v", err)), nil
		}

		var opts pipeline.AskOptions

		if args, ok := request.Params.Arguments.(map[string]any); ok {
			if tmpl, ok := args["template"].(string); ok {
				opts.Template = tmpl
			}

			if k, ok := args["top_k"].(float64); ok {
				opts.TopK = int(k)
			}
		}

		answer, err := backend.AskWithRetry(ctx, question, opts)
		if err != nil {
			var rejection *repair.Rejection
			if errors.As(err, &rejection) {
				return jsonResult(rejectionResult{
					Error:    rejection.Error(),
					Question: rejection.Question,
					LastSQL:  rejection.LastSQL,
					Attempts: rejection.Attempts,
					Trail:    rejection.Trail,
				}, true)
			}

			msg := err.Error()
			if hints := errors.FormatSuggestions(err); hints != "" {
				msg += "\n" + hints
			}

			return mcp.NewToolResultError(msg), nil
		}

		return jsonResult(answer, false)
	}
}

type schemaDescription struct {
	CatalogHash string   `json:"catalog_hash"`
	Tables      []string `json:"tables"`
	Missing     []string `json:"missing,omitempty"`
	Schema      string   `json:"schema"`
}

// DescribeSchemaHandler creates a handler for the describe_schema tool
func DescribeSchemaHandler(backend Backend) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap := backend.Snapshot()
		if snap == nil {
			return mcp.NewToolResultError(backend.Ready().Error()), nil
		}

		var requested []string

		if args, ok := request.Params.Arguments.(map[string]any); ok {
			if tablesParam, ok := args["tables"].([]any); ok {
				for _, table := range tablesParam {
					if tableStr, ok := table.(string); ok && strings.TrimSpace(tableStr) != "" {
						requested = append(requested, tableStr)
					}
				}
			}
		}

		desc := schemaDescription{CatalogHash: snap.Hash()}

		var texts []string

		if len(requested) == 0 {
			for _, u := range snap.Index.Units() {
				desc.Tables = append(desc.Tables, u.ID)
				texts = append(texts, u.Text)
			}
		} else {
			for _, name := range requested {
				tbl, ok := snap.Catalog.Find(name)
				if !ok {
					desc.Missing = append(desc.Missing, name)
					continue
				}

				u, ok := snap.Index.Unit(tbl.ID())
				if !ok {
					desc.Missing = append(desc.Missing, tbl.ID())
					continue
				}

				desc.Tables = append(desc.Tables, u.ID)
				texts = append(texts, u.Text)
			}
		}

		desc.Schema = strings.Join(texts, "\n")

		return jsonResult(desc, false)
	}
}

func jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal results: %v", err)), nil
	}

	result := mcp.NewToolResultText(string(jsonData))
	result.IsError = isError

	return result, nil
}
