// Copilot SDK supervision: the "cloud" builtin family runs through a
// managed SDK session instead of a spawned CLI process. This is the
// one-shot "create a session, send the prompt, collect events until
// idle or error" shape a subordinate agent needs.
package agentmgr

import (
	"context"
	"fmt"
	"time"

	copilot "github.com/github/copilot-sdk/go"
)

// spawnCopilotSDK implements the RuntimeCopilotSDK backend: no subprocess
// is spawned at all, so the concurrency slot and Agent bookkeeping mirror
// the other backends but rt.cmd stays nil (cancellation goes through
// rt.stop, as for Docker).
func (m *Manager) spawnCopilotSDK(ctx context.Context, agent *Agent, cfg *AgentConfig, req AgentCreateRequest) {
	client := copilot.NewClient(copilotClientOptions(cfg))

	rt := &runtime{done: make(chan struct{})}
	var session *copilot.Session
	rt.stop = func() {
		if session != nil {
			_ = session.Abort()
		}
	}

	m.mu.Lock()
	m.runtime[agent.ID] = rt
	startedAt := time.Now()
	agent.StartedAt = &startedAt
	agent.Status = StatusRunning
	agent.Progress = append(agent.Progress, fmt.Sprintf("Started with model %s (copilot sdk)", req.Model))
	agent.LastActivity = startedAt
	m.mu.Unlock()

	go m.superviseCopilotSDK(agent, rt, client, &session, cfg, req)
}

func copilotClientOptions(cfg *AgentConfig) *copilot.ClientOptions {
	if cfg.CopilotCLIURL == "" {
		return nil
	}
	return &copilot.ClientOptions{CLIUrl: cfg.CopilotCLIURL, LogLevel: "error"}
}

// superviseCopilotSDK creates a session, sends the composed prompt, and
// translates SessionEvent notifications into Agent.Progress lines the
// same way the lines-protocol path turns stdout into progress lines,
// resolving the terminal status from session.idle / session.error
// instead of a process exit code.
func (m *Manager) superviseCopilotSDK(agent *Agent, rt *runtime, client *copilot.Client, sessionSlot **copilot.Session, cfg *AgentConfig, req AgentCreateRequest) {
	done := make(chan error, 1)

	session, err := client.CreateSession(&copilot.SessionConfig{
		Model:      req.Model,
		Streaming:  true,
		MCPServers: nil,
	})
	if err != nil {
		m.finishCopilotSDK(agent, rt, client, fmt.Errorf("copilot create session: %w", err), false)
		return
	}
	*sessionSlot = session

	unsubscribe := session.On(func(evt copilot.SessionEvent) {
		m.handleCopilotEvent(agent, evt, done)
	})
	defer unsubscribe()

	if _, err := session.Send(copilot.MessageOptions{Prompt: composePrompt(req)}); err != nil {
		m.finishCopilotSDK(agent, rt, client, fmt.Errorf("copilot send: %w", err), false)
		return
	}

	waitErr := <-done

	m.mu.Lock()
	cancelled := rt.cancelled
	m.mu.Unlock()

	m.finishCopilotSDK(agent, rt, client, waitErr, cancelled)
}

func (m *Manager) finishCopilotSDK(agent *Agent, rt *runtime, client *copilot.Client, waitErr error, cancelled bool) {
	close(rt.done)
	for _, err := range client.Stop() {
		if err != nil && m.log != nil {
			m.log.WithError(err).WithAgentID(agent.ID).Warn("copilot client stop")
		}
	}
	m.finish(agent, waitErr, cancelled)
	m.releaseSlot()
}

// handleCopilotEvent translates session events into the subset a
// batch-mode progress feed needs: message/reasoning content becomes a
// Progress line, tool events a one-line status note, and
// idle/error/abort resolve done.
func (m *Manager) handleCopilotEvent(agent *Agent, evt copilot.SessionEvent, done chan<- error) {
	line := ""
	switch evt.Type {
	case copilot.AssistantMessage:
		if evt.Data.Content != nil && *evt.Data.Content != "" {
			line = *evt.Data.Content
		}
	case copilot.AssistantMessageDelta:
		if evt.Data.DeltaContent != nil && *evt.Data.DeltaContent != "" {
			line = *evt.Data.DeltaContent
		}
	case copilot.AssistantReasoning, copilot.AssistantReasoningDelta:
		if evt.Data.Content != nil {
			line = "[thinking] " + *evt.Data.Content
		} else if evt.Data.DeltaContent != nil {
			line = "[thinking] " + *evt.Data.DeltaContent
		}
	case copilot.ToolExecutionStart:
		name := "tool"
		if evt.Data.ToolName != nil {
			name = *evt.Data.ToolName
		}
		line = fmt.Sprintf("[tool] %s started", name)
	case copilot.ToolExecutionComplete:
		id := ""
		if evt.Data.ToolCallID != nil {
			id = *evt.Data.ToolCallID
		}
		line = fmt.Sprintf("[tool] %s complete", id)
	case copilot.SessionIdle:
		select {
		case done <- nil:
		default:
		}
		return
	case copilot.SessionError:
		msg := "unknown copilot session error"
		if evt.Data.Message != nil {
			msg = *evt.Data.Message
		}
		select {
		case done <- fmt.Errorf("copilot session error: %s", msg):
		default:
		}
		return
	case copilot.Abort:
		select {
		case done <- fmt.Errorf("copilot session aborted"):
		default:
		}
		return
	default:
		return
	}
	if line == "" {
		return
	}
	m.mu.Lock()
	agent.Progress = append(agent.Progress, line)
	agent.LastActivity = time.Now()
	m.mu.Unlock()
}
