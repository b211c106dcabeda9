// Package mcp implements the Model Context Protocol surface for the
// dispatcher, so MCP-compatible agent runtimes can submit queries, preview
// tool routing, and read the fault report.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kinderwise-ai/dispatch/internal/coordinator"
	"github.com/kinderwise-ai/dispatch/internal/faults"
	"github.com/kinderwise-ai/dispatch/internal/registry"
	"github.com/kinderwise-ai/dispatch/internal/selector"
)

// Deps wires the MCP surface to the dispatch components it exposes.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Selector    *selector.Selector
	Errors      *faults.Store
	Registry    *registry.Registry
	Logger      *slog.Logger
	Version     string
}

// Server wraps the MCP server with the dispatch pipeline.
type Server struct {
	mcpServer *mcpserver.MCPServer
	deps      Deps
}

// New creates and configures a new MCP server with all resources and tools.
func New(deps Deps) *Server {
	s := &Server{deps: deps}

	s.mcpServer = mcpserver.NewMCPServer(
		"dispatch",
		deps.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the MCP protocol over stdin/stdout until ctx is
// cancelled or stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerResources() {
	// dispatch://tools — the full registered tool table.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"dispatch://tools",
			"Registered Tools",
			mcplib.WithResourceDescription("All registered tools with categories and parameter schemas"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleToolsResource,
	)

	// dispatch://errors/stats — aggregate fault counts.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"dispatch://errors/stats",
			"Fault Statistics",
			mcplib.WithResourceDescription("Aggregate fault counts by category and severity"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleErrorStats,
	)
}

func (s *Server) registerTools() {
	// dispatch_ask — run one query through the full pipeline.
	s.mcpServer.AddTool(
		mcplib.NewTool("dispatch_ask",
			mcplib.WithDescription("Dispatch one user query: assess complexity, select tools and model, run the model with tool execution, and return the answer"),
			mcplib.WithString("utterance", mcplib.Description("The user's query text"), mcplib.Required()),
			mcplib.WithString("user_id", mcplib.Description("User identifier"), mcplib.Required()),
			mcplib.WithString("role", mcplib.Description("User role: admin, principal, teacher, or parent")),
			mcplib.WithString("conversation_id", mcplib.Description("Continue an existing conversation")),
		),
		s.handleAsk,
	)

	// dispatch_tools — preview the routing decision without dispatching.
	s.mcpServer.AddTool(
		mcplib.NewTool("dispatch_tools",
			mcplib.WithDescription("Preview which tools the routing table would select for an utterance and role, without running anything"),
			mcplib.WithString("utterance", mcplib.Description("The user's query text"), mcplib.Required()),
			mcplib.WithString("role", mcplib.Description("User role: admin, principal, teacher, or parent")),
		),
		s.handleTools,
	)

	// dispatch_errors — human-readable fault report.
	s.mcpServer.AddTool(
		mcplib.NewTool("dispatch_errors",
			mcplib.WithDescription("Render a human-readable report of recent faults: totals, per-category and per-severity counts, recent criticals"),
		),
		s.handleErrors,
	)
}

func (s *Server) handleToolsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	type toolInfo struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Category    string         `json:"category,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	}
	var tools []toolInfo
	for _, name := range s.deps.Registry.Names() {
		def, ok := s.deps.Registry.Get(name)
		if !ok {
			continue
		}
		tools = append(tools, toolInfo{
			Name:        def.Name,
			Description: def.Description,
			Category:    def.Category,
			Parameters:  def.ParameterSchema,
		})
	}

	data, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal tools: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "dispatch://tools",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleErrorStats(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.deps.Errors.Stats(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal stats: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "dispatch://errors/stats",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleAsk(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	utterance := request.GetString("utterance", "")
	userID := request.GetString("user_id", "")
	if utterance == "" || userID == "" {
		return errorResult("utterance and user_id are required"), nil
	}

	resp, err := s.deps.Coordinator.Ask(ctx, coordinator.Request{
		Utterance:      utterance,
		UserID:         userID,
		Role:           request.GetString("role", "teacher"),
		ConversationID: request.GetString("conversation_id", ""),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("dispatch failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"conversation_id": resp.ConversationID,
		"round":           resp.RoundIndex,
		"text":            resp.Text,
		"model":           resp.ModelProfile.ID,
		"mode":            resp.Mode,
		"selected_tools":  resp.SelectedTools,
		"complexity":      resp.Assessment.Level,
		"tool_results":    resp.ToolResults,
		"trace_id":        resp.TraceID,
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleTools(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	utterance := request.GetString("utterance", "")
	if utterance == "" {
		return errorResult("utterance is required"), nil
	}

	sel := s.deps.Selector.SelectTools(utterance, request.GetString("role", "teacher"))

	resultData, _ := json.MarshalIndent(map[string]any{
		"tools": sel.Tools,
		"mode":  sel.Mode,
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleErrors(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: s.deps.Errors.Report()},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
