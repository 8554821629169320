// Package main is the entry point for agentshell, the interactive CLI
// assistant shell: a single local binary that wires the Order Key
// Allocator, History State Store, Agent Manager, Agent Tool Dispatcher,
// Wait Coordinator, Turn Runtime, Auto Drive Coordinator, Snapshot/Undo
// Service, and Background Event Tickets into one REPL session. No
// HTTP/WS server is started — agentshell is a local, in-process host,
// so main only loads config, builds the logger, constructs the
// collaborators, and drives the REPL loop.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencoder/agentshell/internal/agentmgr"
	"github.com/opencoder/agentshell/internal/agenttool"
	"github.com/opencoder/agentshell/internal/autodrive"
	"github.com/opencoder/agentshell/internal/collab"
	"github.com/opencoder/agentshell/internal/config"
	"github.com/opencoder/agentshell/internal/history"
	"github.com/opencoder/agentshell/internal/logging"
	"github.com/opencoder/agentshell/internal/mcpserver"
	"github.com/opencoder/agentshell/internal/order"
	"github.com/opencoder/agentshell/internal/turn"
	"github.com/opencoder/agentshell/internal/undo"
	"github.com/opencoder/agentshell/internal/wait"
)

func main() {
	codeHome := config.ResolveCodeHome()
	collaborator, err := config.Load(codeHome)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentshell: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewLogger(logging.LoggingConfig{
		Level:      "info",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentshell: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logging.SetDefault(log)

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal("failed to resolve working directory", zap.Error(err))
	}

	session, err := newSession(collaborator, log, cwd)
	if err != nil {
		log.Fatal("failed to start session", zap.Error(err))
	}
	defer session.close()

	log.Info("agentshell starting",
		zap.String("code_home", codeHome),
		zap.String("cwd", cwd),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// `agentshell mcp` serves the agent tool over MCP stdio instead of the
	// interactive REPL, for external MCP clients.
	if len(os.Args) > 1 && os.Args[1] == "mcp" {
		if err := mcpserver.New(session.tools, log).ServeStdio(ctx); err != nil {
			log.Error("mcp server exited", zap.Error(err))
		}
		return
	}

	session.runREPL(ctx)
}

// session binds every collaborator the REPL drives, scoped to a single
// interactive shell.
type session struct {
	cfg *config.Collaborator
	log *logging.Logger

	alloc *order.Allocator
	store *history.Store

	git     collab.Git
	agents  *agentmgr.Manager
	waiter  *wait.Coordinator
	tools   *agenttool.Dispatcher
	snaps   *undo.Service
	auto    *autodrive.Coordinator
	autoRes *autodrive.AutoResolve
	review  *autodrive.ReviewCoordinator

	runtime *turn.Runtime

	spillDir     string
	worktreeRoot string
}

func newSession(cfg *config.Collaborator, log *logging.Logger, cwd string) (*session, error) {
	snap := cfg.Snapshot()

	spillDir := filepath.Join(cfg.CodeHome, "spill")
	worktreeRoot := filepath.Join(cfg.CodeHome, "worktrees")
	if err := os.MkdirAll(spillDir, 0o755); err != nil {
		return nil, fmt.Errorf("agentshell: create spill dir: %w", err)
	}
	if err := os.MkdirAll(worktreeRoot, 0o755); err != nil {
		return nil, fmt.Errorf("agentshell: create worktree root: %w", err)
	}

	git := collab.NewExecGit()

	alloc := order.NewAllocator()
	store := history.NewStore(alloc)

	maxConcurrent := snap.Agent.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	agents := agentmgr.NewManager(git, cwd, worktreeRoot, spillDir, maxConcurrent, log.WithComponent("agent-manager"))

	waiter := wait.NewCoordinator(agents)

	notices := noticeLogger{log: log}

	policy := &configModelPolicy{cfg: cfg}
	events := eventLogger{log: log}

	tools := &agenttool.Dispatcher{
		Manager:  agents,
		Wait:     waiter,
		Policy:   policy,
		Events:   events,
		Notices:  notices,
		SpillDir: spillDir,
	}

	snaps := undo.NewService(git, cwd, store, notices, log.WithComponent("undo"))

	driveState := autodrive.NewState(true, true)
	scheduler := &replScheduler{}
	writePolicy := &turnWritePolicy{}
	auto := autodrive.NewCoordinator(driveState, scheduler, writePolicy, notices, log.WithComponent("auto-drive"))

	autoRes := autodrive.NewAutoResolve(3, notices)
	review := autodrive.NewReviewCoordinator(git, cwd, &noReviewLauncher{}, notices, nil, autoRes, true)

	sink := &localSink{log: log}
	rt := turn.NewRuntime(alloc, store, sink, nil, nil)
	rt.BindAgentManager(agents)

	return &session{
		cfg:          cfg,
		log:          log,
		alloc:        alloc,
		store:        store,
		git:          git,
		agents:       agents,
		waiter:       waiter,
		tools:        tools,
		snaps:        snaps,
		auto:         auto,
		autoRes:      autoRes,
		review:       review,
		runtime:      rt,
		spillDir:     spillDir,
		worktreeRoot: worktreeRoot,
	}, nil
}

func (s *session) close() {
	s.log.Sync()
}

// runREPL drives stdin lines through the prompt-expansion pipeline and
// into the provider sink; slash commands that the
// pipeline doesn't recognize as a builtin are handled directly here
// (/undo, /review, /status, /quit, /exit). /auto has no handler here; it
// goes through ExpandPrompt like any other slash command.
func (s *session) runREPL(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("agentshell ready. Type a message, or /undo, /review, /status, /quit.")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return
		case "/status":
			s.printStatus()
			continue
		case "/undo":
			s.handleUndo(ctx)
			continue
		case "/review":
			s.handleReview(ctx)
			continue
		}

		// A user message during an agent wait interrupts the waiter on its
		// next poll tick.
		s.waiter.Interrupt()

		msgs, notice := s.runtime.ExpandPrompt(line)
		if notice != nil {
			fmt.Printf("[subagent] models=%v read_only=%v\n", notice.Models, notice.ReadOnly)
		}
		for _, m := range msgs {
			if m.SuppressPersistence {
				fmt.Printf("unrecognized command: %s\n", m.DisplayText)
				continue
			}
			if err := s.runtime.Submit(ctx, m); err != nil {
				s.log.Error("submit failed", zap.Error(err))
			}
		}
	}
}

func (s *session) printStatus() {
	agents := s.agents.GetAllAgents()
	fmt.Printf("agents tracked: %d, turn active: %v\n", len(agents), s.runtime.TurnActive())
}

func (s *session) handleUndo(ctx context.Context) {
	entries := s.snaps.Entries(ctx)
	if len(entries) == 0 || entries[0].IsCurrent {
		fmt.Println("no snapshots yet")
		return
	}
	for i, e := range entries {
		marker := ""
		if e.IsCurrent {
			marker = " (current)"
		}
		fmt.Printf("[%d] %s%s - %s\n", i, e.CommitID, marker, e.Summary)
	}
}

func (s *session) handleReview(ctx context.Context) {
	head, err := s.lastCommit(ctx)
	if err != nil {
		fmt.Printf("review unavailable: %v\n", err)
		return
	}
	if err := s.review.RequestReview(ctx, head, head); err != nil {
		s.log.Error("review request failed", zap.Error(err))
	}
}

func (s *session) lastCommit(ctx context.Context) (string, error) {
	entries := s.snaps.Entries(ctx)
	if len(entries) == 0 || entries[0].IsCurrent {
		return "", fmt.Errorf("no snapshot captured yet")
	}
	return entries[0].CommitID, nil
}

// configModelPolicy adapts the Config & Persistence Collaborator to the
// Agent Tool Dispatcher's narrow ModelPolicy surface.
type configModelPolicy struct {
	cfg *config.Collaborator
}

func (p *configModelPolicy) Resolve(model string) (*agentmgr.AgentConfig, bool, bool) {
	snap := p.cfg.Snapshot()
	disabled := snap.Agent.Disabled[model]
	return nil, disabled, true
}

func (p *configModelPolicy) DefaultModels() []string {
	return p.cfg.DefaultModels()
}

type eventLogger struct{ log *logging.Logger }

func (e eventLogger) PublishAgentEvent(action string, payload map[string]any) {
	e.log.Info("agent event", zap.String("action", action))
}

type noticeLogger struct{ log *logging.Logger }

func (n noticeLogger) PublishNotice(text string) {
	fmt.Printf("[notice] %s\n", text)
}

type replScheduler struct{}

func (replScheduler) ScheduleAutoCLIPrompt(ctx context.Context, prompt string, suppressUIContext bool) error {
	fmt.Printf("[auto-drive] %s\n", prompt)
	return nil
}

type turnWritePolicy struct {
	enabled bool
}

func (p *turnWritePolicy) WriteAllowed() bool { return p.enabled }
func (p *turnWritePolicy) EnableWriteForTurn() {
	p.enabled = true
}

type noReviewLauncher struct{}

func (noReviewLauncher) LaunchReviewAgent(ctx context.Context, baseCommit string) (string, error) {
	return uuid.NewString(), nil
}

// localSink is the turn Runtime's provider sink. The model-provider HTTP
// streaming client itself is out of scope; this
// stub only shows where the real client attaches.
type localSink struct {
	log *logging.Logger
}

func (l *localSink) UserInput(ctx context.Context, items []turn.Item) error {
	for _, it := range items {
		fmt.Printf("(submitted) %s\n", it.Text)
	}
	return nil
}

func (l *localSink) QueueUserInput(ctx context.Context, items []turn.Item) error {
	return l.UserInput(ctx, items)
}
