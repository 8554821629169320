// Package mcpserver exposes the session's agent tool surface over the
// Model Context Protocol, so external MCP clients (editors, other
// assistants) can drive the same create/status/result/cancel/wait/list
// verbs the primary model uses. Unlike the browser-facing transports the
// protocol also supports, this server speaks stdio only: the core is a
// local process with no network surface.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/opencoder/agentshell/internal/agenttool"
	"github.com/opencoder/agentshell/internal/logging"
)

// Server wraps an MCP server whose single "agent" tool forwards into the
// Agent Tool Dispatcher.
type Server struct {
	mcpServer  *server.MCPServer
	dispatcher *agenttool.Dispatcher
	logger     *logging.Logger
}

// New builds a stdio MCP server bound to dispatcher.
func New(dispatcher *agenttool.Dispatcher, log *logging.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"agentshell-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s := &Server{mcpServer: mcpServer, dispatcher: dispatcher, logger: log}
	registerTools(mcpServer, dispatcher, log)
	return s
}

// ServeStdio blocks serving MCP over stdin/stdout until ctx is cancelled
// or the peer disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.ServeStdio(s.mcpServer, server.WithStdioContextFunc(
		func(context.Context) context.Context { return ctx },
	))
}
