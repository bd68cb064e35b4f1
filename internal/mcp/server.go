package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes the tool registry over the Model Context Protocol. The
// stdio transport is what editor integrations speak; the daemon's HTTP
// tool channel shares the same registry.
type Server struct {
	registry  *Registry
	mcpServer *server.MCPServer
	log       *slog.Logger
}

// NewServer wraps a registry in an MCP server advertising every tool.
func NewServer(registry *Registry, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		registry:  registry,
		mcpServer: server.NewMCPServer("cortex", version, server.WithToolCapabilities(true)),
		log:       log.With(slog.String("component", "mcp")),
	}
	for _, schema := range registry.Schemas() {
		s.mcpServer.AddTool(schema, s.handlerFor(schema.Name))
	}
	return s
}

// MCPServer returns the underlying server for transport wiring.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the server over stdin/stdout until the stream closes.
func (s *Server) ServeStdio() error {
	s.log.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// handlerFor adapts a registry tool to the MCP calling convention. Tool
// failures become error results rather than protocol errors so the
// assistant sees them as content.
func (s *Server) handlerFor(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := s.registry.Call(ctx, name, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}
