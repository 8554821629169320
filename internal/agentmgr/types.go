// Package agentmgr implements the Agent Manager: a
// session-scoped multi-process scheduler that creates, supervises,
// cancels, and reaps subordinate CLI agent processes grouped into
// batches, with read-only vs write isolation via worktrees.
package agentmgr

import (
	"time"
)

// Status is the agent lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is one of the three terminal states.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SourceKind discriminates agent provenance; AutoReview agents are
// excluded from user-visible cancel targets and from Auto Drive's
// "agents completed" wake synthesis.
type SourceKind string

const (
	SourceUser       SourceKind = "user"
	SourceAutoDrive  SourceKind = "auto_drive"
	SourceAutoReview SourceKind = "auto_review"
)

// Protocol selects how the Agent Manager talks to the child process:
// Lines is the raw stdout-progress-lines contract; ACP is for agents
// (opencode, some Claude Code builds) that speak structured Agent Client
// Protocol JSON-RPC session updates over stdio instead of plain lines.
type Protocol string

const (
	ProtocolLines Protocol = "lines"
	ProtocolACP   Protocol = "acp"
)

// RuntimeKind selects the process isolation backend used to spawn an
// agent's child process.
type RuntimeKind string

const (
	// RuntimePipe spawns a plain child process with stdout/stderr pipes.
	RuntimePipe RuntimeKind = "pipe"
	// RuntimePTY spawns the child attached to a pseudo-terminal, for CLI
	// agents that only stream progress cleanly when they believe they
	// have a tty.
	RuntimePTY RuntimeKind = "pty"
	// RuntimeDocker spawns the child inside a container for stronger
	// isolation than a worktree alone provides.
	RuntimeDocker RuntimeKind = "docker"
	// RuntimeCopilotSDK drives the agent through the GitHub Copilot SDK
	// instead of a subprocess: the "cloud" builtin family's managed
	// session backend.
	RuntimeCopilotSDK RuntimeKind = "copilot_sdk"
)

// Agent is one subordinate CLI process managed by the session.
type Agent struct {
	ID           string
	BatchID      string
	Model        string
	Name         string
	Status       Status
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	LastActivity time.Time

	Progress []string
	Result   string
	Error    string

	WorktreePath string
	BranchName   string
	SourceKind   SourceKind

	ReadOnly bool
	Protocol Protocol
}

// Batch is a creation-time group of agents sharing one batch id, used
// as the identity for wait/cancel/list.
type Batch struct {
	ID            string
	AgentIDs      []string
	DefaultTiming string
}

// AgentConfig carries the per-model launch configuration consulted
// during spawning (args, env, and the legacy args_read_only/args_write:
// both are honored, the one matching the mode is appended after Args
// when non-empty).
type AgentConfig struct {
	Command       string
	Args          []string
	ArgsReadOnly  []string
	ArgsWrite     []string
	Env           map[string]string
	ReadOnly      *bool // config-level default, overridden per request
	RuntimeKind   RuntimeKind
	Protocol      Protocol
	DockerImage   string // required when RuntimeKind == RuntimeDocker
	CopilotCLIURL string // optional externally managed Copilot CLI server, RuntimeCopilotSDK only
}

// AgentCreateRequest carries everything CreateAgent needs to launch one
// agent.
type AgentCreateRequest struct {
	Model           string
	Name            string
	Prompt          string
	Context         string
	OutputGoal      string
	Files           []string
	ReadOnly        bool
	BatchID         string
	Config          *AgentConfig
	WorktreeBranch  string
	WorktreeBase    string
	SourceKind      SourceKind
	ReasoningEffort string
}

// SkipReason explains why a candidate model was not spawned.
type SkipReason struct {
	Model  string
	Reason string
}
