// Package turn implements the Turn / Session Runtime: it queues user
// input, runs a "turn", routes provider events through the ordering step
// into the History State Store, and owns pending prompts.
package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/opencoder/agentshell/internal/agentmgr"
	"github.com/opencoder/agentshell/internal/bgticket"
	"github.com/opencoder/agentshell/internal/collab"
	"github.com/opencoder/agentshell/internal/history"
	"github.com/opencoder/agentshell/internal/order"
)

// ProviderSink is the narrow surface the Runtime drives to hand the
// provider a turn's input, either directly or queued per message.
type ProviderSink interface {
	UserInput(ctx context.Context, items []Item) error
	QueueUserInput(ctx context.Context, items []Item) error
}

// CustomPromptRegistry resolves a `/<name>` slash command to an expanded
// prompt body.
type CustomPromptRegistry interface {
	Expand(name string, args string) (expanded string, ok bool)
}

// SubagentRegistry resolves a `/<name>` slash command to a configured
// subagent.
type SubagentRegistry interface {
	Lookup(name string) (SubagentConfig, bool)
}

// AgentCompleter is the Agent Manager surface the synthetic-completion
// path drives: it force-transitions every non-terminal agent and
// returns the ids it touched.
type AgentCompleter interface {
	ForceCompleteActive() []string
}

// multilineSafeCommands is the short list of builtin slash commands that
// are "multiline-safe" and must NOT be split into a command line plus a
// separate body message.
var multilineSafeCommands = map[string]bool{
	"plan":  true,
	"solve": true,
	"code":  true,
}

// Runtime is the Turn / Session Runtime. It is single-writer: only the
// goroutine that owns a Runtime may call Submit or IngestEvent, and it
// alone mutates the History Store.
type Runtime struct {
	mu sync.Mutex

	alloc *order.Allocator
	store *history.Store

	sink      ProviderSink
	prompts   CustomPromptRegistry
	subagents SubagentRegistry
	agents    AgentCompleter

	queue         []UserMessage
	turnActive    bool
	spinnerActive bool

	streamOrderSeq map[streamKey]order.Key
	bgTail         *bgticket.TailTicket

	Viewport Viewport
	Frozen   FrozenPrefix
}

type streamKey struct {
	kind     string
	streamID string
}

// NewRuntime binds a Runtime to the session's allocator, store, and
// provider sink.
func NewRuntime(alloc *order.Allocator, store *history.Store, sink ProviderSink, prompts CustomPromptRegistry, subagents SubagentRegistry) *Runtime {
	return &Runtime{
		alloc:          alloc,
		store:          store,
		sink:           sink,
		prompts:        prompts,
		subagents:      subagents,
		streamOrderSeq: make(map[streamKey]order.Key),
	}
}

// Submit queues the message while a turn is active, otherwise drains
// immediately in submission order.
func (r *Runtime) Submit(ctx context.Context, msg UserMessage) error {
	r.mu.Lock()
	active := r.turnActive
	r.mu.Unlock()

	if active {
		r.mu.Lock()
		r.queue = append(r.queue, msg)
		r.alloc.SetPendingNextPrompt(true)
		r.mu.Unlock()
		return nil
	}
	return r.drain(ctx, msg)
}

// drain sends queued messages (plus msg) to the provider sink in
// submission order.
func (r *Runtime) drain(ctx context.Context, msg UserMessage) error {
	r.mu.Lock()
	batch := append(r.queue, msg)
	r.queue = nil
	r.alloc.SetPendingNextPrompt(false)
	r.mu.Unlock()

	for _, m := range batch {
		items := m.OrderedItems
		var err error
		if len(batch) > 1 {
			err = r.sink.QueueUserInput(ctx, items)
		} else {
			err = r.sink.UserInput(ctx, items)
		}
		if err != nil {
			return fmt.Errorf("turn: submit: %w", err)
		}
	}
	return nil
}

// ExpandPrompt runs the prompt expansion pipeline. It
// returns the list of UserMessages to actually submit (a slash command
// outside the multiline-safe list that carries a body splits into two; a
// custom prompt or subagent match expands in-place; non-slash text is
// returned unchanged; an unrecognized slash command is returned unchanged
// with SuppressPersistence set).
func (r *Runtime) ExpandPrompt(raw string) ([]UserMessage, *SubagentNotice) {
	firstLine, rest, isSlash := splitFirstLine(raw)
	if !isSlash {
		return []UserMessage{{DisplayText: raw, OrderedItems: []Item{{Kind: ItemText, Text: raw}}}}, nil
	}

	name, args := splitSlashCommand(firstLine)
	name = strings.ToLower(name)

	if !multilineSafeCommands[name] && rest != "" {
		// Step 2: split into the command line and the remaining body as
		// two separate user messages.
		return []UserMessage{
			{DisplayText: firstLine, OrderedItems: []Item{{Kind: ItemText, Text: firstLine}}},
			{DisplayText: rest, OrderedItems: []Item{{Kind: ItemText, Text: rest}}},
		}, nil
	}

	if r.prompts != nil {
		if expanded, ok := r.prompts.Expand(name, args); ok {
			return []UserMessage{{DisplayText: expanded, OrderedItems: []Item{{Kind: ItemText, Text: expanded}}}}, nil
		}
	}

	if r.subagents != nil {
		if cfg, ok := r.subagents.Lookup(name); ok {
			task := args
			if task == "" {
				task = rest
			}
			notice := &SubagentNotice{Models: cfg.Models, ReadOnly: cfg.ReadOnly}
			// Same builder the Agent Tool Dispatcher's create verb uses, so
			// the synthetic prompt matches what create_agent would compose.
			composed := agentmgr.ComposePrompt(agentCreateRequestFromSubagent(cfg, task))
			synthetic := fmt.Sprintf("Use the agent tool to launch %q (read_only=%v) with this task:\n%s", cfg.Name, cfg.ReadOnly, composed)
			return []UserMessage{{DisplayText: synthetic, OrderedItems: []Item{{Kind: ItemText, Text: synthetic}}}}, notice
		}
	}

	// Unrecognized `/` command: never routed to the provider, returned
	// unchanged so the caller can render a "not found" notice instead.
	return []UserMessage{{DisplayText: raw, OrderedItems: []Item{{Kind: ItemText, Text: raw}}, SuppressPersistence: true}}, nil
}

func splitFirstLine(raw string) (first, rest string, isSlash bool) {
	trimmed := strings.TrimLeft(raw, " \t")
	if !strings.HasPrefix(trimmed, "/") {
		return raw, "", false
	}
	idx := strings.IndexByte(trimmed, '\n')
	if idx < 0 {
		return trimmed, "", true
	}
	return trimmed[:idx], strings.TrimLeft(trimmed[idx+1:], "\n"), true
}

func splitSlashCommand(line string) (name, args string) {
	line = strings.TrimPrefix(line, "/")
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx+1:])
}

// BindAgentManager attaches the Agent Manager surface the
// synthetic-completion path needs. Optional; without it
// ForceSyntheticCompletion only ends the turn.
func (r *Runtime) BindAgentManager(c AgentCompleter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = c
}

// BeginTurn marks the turn active on TaskStarted, arms the spinner, and
// advances the allocator's request index.
func (r *Runtime) BeginTurn(reqOrdinal uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turnActive = true
	r.spinnerActive = true
	r.alloc.BeginRequest(reqOrdinal)
	r.bgTail = bgticket.NewTailTicket(r.alloc)
}

// SubmitBackgroundEvent mints the next key in this turn's
// background-tail ticket sequence and inserts a BackgroundEvent record,
// the only record type allowed a non-monotonic key. Safe to call from
// any goroutine: supervisor tasks route background notices through this
// single entry point.
func (r *Runtime) SubmitBackgroundEvent(text string) (history.Mutation, error) {
	r.mu.Lock()
	if r.bgTail == nil {
		r.bgTail = bgticket.NewTailTicket(r.alloc)
	}
	key := r.bgTail.Next()
	r.mu.Unlock()
	return r.store.Apply(history.DomainEvent{
		Op:     history.OpInsert,
		Key:    key,
		Record: history.BackgroundEvent{Text: text},
	})
}

// SubmitBackgroundEventBeforeNextOutput inserts a background notice
// that sorts before the next provider output: Early if the next turn has
// a pending prompt, else PrePrompt. The pending-prompt flag drives this
// through the shared Allocator.
func (r *Runtime) SubmitBackgroundEventBeforeNextOutput(text string) (history.Mutation, error) {
	ticket := bgticket.NewBeforeNextOutputTicket(r.alloc)
	return r.store.Apply(history.DomainEvent{
		Op:     history.OpInsert,
		Key:    ticket.Key(),
		Record: history.BackgroundEvent{Text: text},
	})
}

// TurnActive reports whether a turn is currently running.
func (r *Runtime) TurnActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnActive
}

// EndTurn implements TaskComplete: marks the turn idle, stops the
// spinner, and drains the oldest message queued while it was active.
// The remaining queued messages are restored only after the head has
// been drained, so drain sees an empty queue and the head goes out
// alone, in submission order.
func (r *Runtime) EndTurn(ctx context.Context) error {
	r.mu.Lock()
	r.turnActive = false
	r.spinnerActive = false
	queued := r.queue
	r.queue = nil
	r.mu.Unlock()

	if len(queued) == 0 {
		return nil
	}
	err := r.drain(ctx, queued[0])

	r.mu.Lock()
	r.queue = append(queued[1:], r.queue...)
	if len(r.queue) > 0 {
		r.alloc.SetPendingNextPrompt(true)
	}
	r.mu.Unlock()
	return err
}

// IngestEvent converts a provider event's order meta into a Key, applies
// the resulting domain event, and returns the mutation. streamID is
// non-empty only for assistant-stream deltas, so the delta keeps its
// originally-seeded slot.
func (r *Runtime) IngestEvent(ev collab.ProviderEvent, streamID string, toEvent func(order.Key) history.DomainEvent) (history.Mutation, error) {
	key := r.resolveKey(ev, streamID)
	domainEvent := toEvent(key)
	return r.store.Apply(domainEvent)
}

func (r *Runtime) resolveKey(ev collab.ProviderEvent, streamID string) order.Key {
	if streamID != "" {
		sk := streamKey{kind: "assistant_stream", streamID: streamID}
		r.mu.Lock()
		if seeded, ok := r.streamOrderSeq[sk]; ok {
			r.mu.Unlock()
			return seeded
		}
		r.mu.Unlock()
	}

	out := int32(0)
	if ev.OutputIndex != nil {
		out = *ev.OutputIndex
	}
	var seq uint64
	if ev.SequenceNumber != nil {
		seq = *ev.SequenceNumber
	}
	key, _ := r.alloc.Monotonic(ev.RequestOrdinal, out, seq)

	if streamID != "" {
		sk := streamKey{kind: "assistant_stream", streamID: streamID}
		r.mu.Lock()
		r.streamOrderSeq[sk] = key
		r.mu.Unlock()
	}
	return key
}

// ForceSyntheticCompletion handles the case where the final answer
// arrives without a TaskComplete: every Pending|Running agent is
// transitioned to a terminal status through the bound AgentCompleter
// (Completed when a result payload is present, Failed otherwise), the
// spinner stops, and the turn is force-completed.
func (r *Runtime) ForceSyntheticCompletion(ctx context.Context) error {
	r.mu.Lock()
	completer := r.agents
	r.mu.Unlock()

	if completer != nil {
		completer.ForceCompleteActive()
	}
	return r.EndTurn(ctx)
}

// HandleAgentStatusUpdate consumes a late agent status update after a
// synthetic completion: if any agent is still Running, the spinner
// re-arms.
func (r *Runtime) HandleAgentStatusUpdate(anyRunning bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if anyRunning {
		r.spinnerActive = true
	}
}

// SpinnerActive reports whether the activity spinner should render.
func (r *Runtime) SpinnerActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spinnerActive
}

// RestoreFromJumpBack applies a JumpBack event's history snapshot via
// the store and rebiases the allocator. This is the only path by which
// store state changes outside ordinary ingestion, since /undo's
// conversation restore is itself a Runtime operation.
func (r *Runtime) RestoreFromJumpBack(ev AppEvent) error {
	if ev.Kind != AppEventJumpBack || ev.HistorySnapshot == nil {
		return fmt.Errorf("turn: RestoreFromJumpBack: not a JumpBack event with a snapshot")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Restore(*ev.HistorySnapshot)
	r.queue = nil
	r.turnActive = false
	r.spinnerActive = false
	r.streamOrderSeq = make(map[streamKey]order.Key)
	r.bgTail = nil
	return nil
}
