package autodrive

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencoder/agentshell/internal/logging"
)

// CLIStep is the decision's `cli{prompt,context?,suppress_ui_context}`
// sub-object.
type CLIStep struct {
	Prompt            string
	Context           string
	SuppressUIContext bool
}

// Decision is the AutoDecisionEvent the coordinator consumes each cycle.
type Decision struct {
	Status           string
	StatusTitle      string
	StatusSentToUser bool
	Goal             string
	CLI              *CLIStep
	AgentsTiming     Timing
	Agents           []AgentAction
}

// CLIScheduler is the Turn Runtime facade the coordinator drives for
// the `cli.prompt` half of a decision.
type CLIScheduler interface {
	ScheduleAutoCLIPrompt(ctx context.Context, prompt string, suppressUIContext bool) error
}

// WriteModePolicy reports and flips whether the session's sandbox and
// approval policy currently allows write-mode agents.
type WriteModePolicy interface {
	WriteAllowed() bool
	EnableWriteForTurn()
}

// NoticePublisher surfaces coordinator notices to session history.
type NoticePublisher interface {
	PublishNotice(text string)
}

// Coordinator drives one session's Auto Drive state through successive
// decisions.
type Coordinator struct {
	State *State

	scheduler   CLIScheduler
	writePolicy WriteModePolicy
	notices     NoticePublisher
	log         *logging.Logger
}

// NewCoordinator binds a Coordinator to its collaborators.
func NewCoordinator(state *State, scheduler CLIScheduler, writePolicy WriteModePolicy, notices NoticePublisher, log *logging.Logger) *Coordinator {
	return &Coordinator{State: state, scheduler: scheduler, writePolicy: writePolicy, notices: notices, log: log}
}

// HandleDecision runs one decision through the turn cycle: goal
// promotion, agent-action staging, and CLI prompt scheduling. The final
// step (wait for the last assistant message, then run review) is driven
// by the Turn Runtime's task-completion hook, not from here, since only
// the Runtime observes that event.
func (c *Coordinator) HandleDecision(ctx context.Context, ev Decision) error {
	ctx, span := tracer.Start(ctx, "autodrive.HandleDecision")
	defer span.End()

	c.State.Phase = PhaseActive

	// Step 1: goal promotion.
	if ev.Goal != "" {
		c.State.PromoteGoal(ev.Goal)
	}

	// Step 2: stage agent actions, flipping write mode for the turn if a
	// pending write agent needs it and the policy currently forbids it.
	if len(ev.Agents) > 0 {
		c.State.PendingAgentActions = ev.Agents
		c.State.PendingAgentTiming = ev.AgentsTiming
		if c.anyWriteLocked(ev.Agents) && c.writePolicy != nil && !c.writePolicy.WriteAllowed() {
			c.writePolicy.EnableWriteForTurn()
			if c.notices != nil {
				c.notices.PublishNotice("Auto Drive enabled write mode for this turn.")
			}
		}
	} else {
		c.State.PendingAgentActions = nil
	}

	// Step 3: schedule the CLI prompt, if any.
	if ev.CLI != nil && strings.TrimSpace(ev.CLI.Prompt) != "" {
		c.State.CurrentCLIPrompt = ev.CLI.Prompt
		if !ev.CLI.SuppressUIContext {
			c.State.CurrentCLIContext = ev.CLI.Context
		} else {
			c.State.CurrentCLIContext = ""
		}
		if c.scheduler != nil {
			if err := c.scheduler.ScheduleAutoCLIPrompt(ctx, ev.CLI.Prompt, ev.CLI.SuppressUIContext); err != nil {
				return fmt.Errorf("autodrive: schedule cli prompt: %w", err)
			}
		}
	}

	if ev.Status == "complete" {
		c.State.Phase = PhaseComplete
	}
	return nil
}

func (c *Coordinator) anyWriteLocked(actions []AgentAction) bool {
	for _, a := range actions {
		if a.Write {
			return true
		}
	}
	return false
}

// BuildAgentMessage composes the single textual prompt the provider
// consumes for a turn with staged agent actions. The
// section order and final instruction wording are part of the contract:
// callers (and tests) rely on the literal phrases per timing.
func BuildAgentMessage(cliContext, cliPrompt string, actions []AgentAction, timing Timing) string {
	var b strings.Builder

	if cliContext != "" {
		b.WriteString("Context:\n")
		b.WriteString(cliContext)
		b.WriteString("\n\n")
	}

	b.WriteString(cliPrompt)
	b.WriteString("\n\n")

	b.WriteString("Agents to launch:\n")
	for i, a := range actions {
		mode := "read-only"
		if a.Write {
			mode = "write"
		}
		fmt.Fprintf(&b, "%d. Use the agent tool with action \"create\" to launch a %s agent", i+1, mode)
		if len(a.Models) > 0 {
			fmt.Fprintf(&b, " using model(s) %s", strings.Join(a.Models, ", "))
		}
		fmt.Fprintf(&b, " with task: %q", a.Prompt)
		if a.Context != "" {
			fmt.Fprintf(&b, " and context: %q", a.Context)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch timing {
	case TimingBlocking:
		b.WriteString("Launch these agents first and await their completion before continuing.\n")
	case TimingParallel:
		b.WriteString("Launch these agents in the background and proceed.\n")
	case TimingPostTurn:
		b.WriteString("After completing the turn, launch these agents and wait.\n")
	}

	b.WriteString("Use agent.wait to watch for completion, then agent.result to read each outcome.\n")
	return b.String()
}
