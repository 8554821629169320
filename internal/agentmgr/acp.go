// ACP supervision: some CLI agents (opencode, newer Claude Code builds)
// speak the Agent Client Protocol — structured JSON-RPC session updates
// over stdio — instead of emitting plain progress lines. The handshake
// is initialize -> new_session -> prompt, streamed via SessionUpdate
// notifications; each content/tool-call update becomes a Progress line.
// The terminal status comes from handshake/prompt errors and the process
// exit; a stop reason other than end_turn is recorded as a progress line.
package agentmgr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
)

// acpClient implements acp.Client, auto-approving permission requests
// and forwarding session updates to a handler. It covers only what a
// batch-mode subordinate agent needs: no terminal emulation, no
// interactive file review.
type acpClient struct {
	workspaceRoot string
	mu            sync.Mutex
	onUpdate      func(acp.SessionNotification)
}

func (c *acpClient) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	if len(p.Options) == 0 {
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
		}, nil
	}
	selected := p.Options[0]
	for _, opt := range p.Options {
		if opt.Kind == acp.PermissionOptionKindAllowOnce || opt.Kind == acp.PermissionOptionKindAllowAlways {
			selected = opt
			break
		}
	}
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: selected.OptionId},
		},
	}, nil
}

func (c *acpClient) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	c.mu.Lock()
	handler := c.onUpdate
	c.mu.Unlock()
	if handler != nil {
		handler(n)
	}
	return nil
}

func (c *acpClient) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	return acp.ReadTextFileResponse{}, fmt.Errorf("agentmgr: ACP ReadTextFile not supported for subordinate agents")
}

func (c *acpClient) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	return acp.WriteTextFileResponse{}, fmt.Errorf("agentmgr: ACP WriteTextFile not supported for subordinate agents")
}

func (c *acpClient) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{TerminalId: "t-1"}, nil
}
func (c *acpClient) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, nil
}
func (c *acpClient) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, nil
}
func (c *acpClient) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, nil
}
func (c *acpClient) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	exitCode := 0
	return acp.WaitForTerminalExitResponse{ExitCode: &exitCode}, nil
}

var _ acp.Client = (*acpClient)(nil)

// superviseACP drives a ProtocolACP agent: initialize, open a session
// rooted at workDir, send the composed prompt, stream
// updates into Progress, and resolve the terminal status: an error from
// initialize/new_session/prompt or a non-zero process exit -> Failed,
// otherwise Completed (Cancelled if the agent was cancelled). A stop reason other than end_turn does not change
// the status; it is appended as an "ACP session stopped" progress line.
func (m *Manager) superviseACP(agent *Agent, rt *runtime, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.Reader, workDir string, req AgentCreateRequest) {
	client := &acpClient{workspaceRoot: workDir}
	conn := acp.NewClientSideConnection(client, stdin, stdout)
	conn.SetLogger(slog.Default().With("component", "agentmgr-acp"))

	client.mu.Lock()
	client.onUpdate = func(n acp.SessionNotification) {
		line := formatACPUpdate(n)
		if line == "" {
			return
		}
		m.mu.Lock()
		agent.Progress = append(agent.Progress, line)
		agent.LastActivity = time.Now()
		m.mu.Unlock()
	}
	client.mu.Unlock()

	ctx := context.Background()
	var finalErr error

	if _, err := conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientInfo:      &acp.Implementation{Name: "agentshell", Version: "0.1.0"},
	}); err != nil {
		finalErr = fmt.Errorf("acp initialize: %w", err)
	}

	var sessionID acp.SessionId
	if finalErr == nil {
		sess, err := conn.NewSession(ctx, acp.NewSessionRequest{Cwd: workDir, McpServers: []acp.McpServer{}})
		if err != nil {
			finalErr = fmt.Errorf("acp new_session: %w", err)
		} else {
			sessionID = sess.SessionId
		}
	}

	var stopReason acp.StopReason
	if finalErr == nil {
		prompt := composePrompt(req)
		resp, err := conn.Prompt(ctx, acp.PromptRequest{
			SessionId: sessionID,
			Prompt:    []acp.ContentBlock{acp.TextBlock(prompt)},
		})
		if err != nil {
			finalErr = fmt.Errorf("acp prompt: %w", err)
		} else {
			stopReason = resp.StopReason
		}
	}

	_ = stdin.Close()
	waitErr := cmd.Wait()
	close(rt.done)

	m.mu.Lock()
	cancelled := rt.cancelled
	m.mu.Unlock()

	if finalErr != nil && waitErr == nil {
		waitErr = finalErr
	}
	if finalErr == nil && stopReason != "" && stopReason != acp.StopReasonEndTurn {
		m.mu.Lock()
		agent.Progress = append(agent.Progress, fmt.Sprintf("ACP session stopped: %s", stopReason))
		m.mu.Unlock()
	}

	m.finish(agent, waitErr, cancelled)
	m.releaseSlot()
}

// formatACPUpdate renders a SessionNotification as a single progress
// line.
func formatACPUpdate(n acp.SessionNotification) string {
	u := n.Update
	switch {
	case u.AgentMessageChunk != nil && u.AgentMessageChunk.Content.Text != nil:
		return u.AgentMessageChunk.Content.Text.Text
	case u.AgentThoughtChunk != nil && u.AgentThoughtChunk.Content.Text != nil:
		return "[thinking] " + u.AgentThoughtChunk.Content.Text.Text
	case u.ToolCall != nil:
		return fmt.Sprintf("[tool] %s: %s", u.ToolCall.Title, u.ToolCall.Status)
	case u.ToolCallUpdate != nil:
		return fmt.Sprintf("[tool] %s updated", u.ToolCallUpdate.ToolCallId)
	case u.Plan != nil:
		return fmt.Sprintf("[plan] %d entries", len(u.Plan.Entries))
	default:
		return ""
	}
}
