package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/opencoder/agentshell/internal/agenttool"
	"github.com/opencoder/agentshell/internal/logging"
)

func registerTools(s *server.MCPServer, dispatcher *agenttool.Dispatcher, log *logging.Logger) {
	s.AddTool(
		mcp.NewTool("agent",
			mcp.WithDescription(
				"Manage subordinate CLI agents for this session. "+
					"Actions:\n"+
					"1. create — launch one or more agents (requires a task of at least a few words)\n"+
					"2. status — inspect a single agent's progress\n"+
					"3. result — fetch a completed agent's output\n"+
					"4. cancel — cancel an agent or a whole batch\n"+
					"5. wait — block until agents finish, time out, or are interrupted\n"+
					"6. list — list agents with status counts\n\n"+
					"Pass the full request as a JSON object in `request`, e.g. "+
					`{"action":"create","create":{"task":"run the unit tests","models":["claude"]}}.`,
			),
			mcp.WithString("request",
				mcp.Required(),
				mcp.Description("The agent tool request JSON: {action, create?, status?, result?, cancel?, wait?, list?}"),
			),
		),
		agentHandler(dispatcher, log),
	)

	if log != nil {
		log.Info("registered MCP tools", zap.Int("count", 1))
	}
}

func agentHandler(dispatcher *agenttool.Dispatcher, log *logging.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("request")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var toolReq agenttool.Request
		if err := json.Unmarshal([]byte(raw), &toolReq); err != nil {
			if log != nil {
				log.Error("malformed agent tool request", zap.Error(err))
			}
			return mcp.NewToolResultError("malformed agent tool request: " + err.Error()), nil
		}

		return mcp.NewToolResultText(dispatcher.Dispatch(ctx, toolReq)), nil
	}
}
