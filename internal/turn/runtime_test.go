package turn

import (
	"context"
	"testing"

	"github.com/opencoder/agentshell/internal/collab"
	"github.com/opencoder/agentshell/internal/history"
	"github.com/opencoder/agentshell/internal/order"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	direct []Item
	queued [][]Item
}

func (f *fakeSink) UserInput(ctx context.Context, items []Item) error {
	f.direct = items
	return nil
}

func (f *fakeSink) QueueUserInput(ctx context.Context, items []Item) error {
	f.queued = append(f.queued, items)
	return nil
}

func newTestRuntime(sink *fakeSink) *Runtime {
	alloc := order.NewAllocator()
	store := history.NewStore(alloc)
	return NewRuntime(alloc, store, sink, nil, nil)
}

func TestSubmitDrainsImmediatelyWhenIdle(t *testing.T) {
	sink := &fakeSink{}
	rt := newTestRuntime(sink)

	err := rt.Submit(context.Background(), UserMessage{DisplayText: "hi", OrderedItems: []Item{{Kind: ItemText, Text: "hi"}}})
	require.NoError(t, err)
	require.Len(t, sink.direct, 1)
	require.Equal(t, "hi", sink.direct[0].Text)
	require.Empty(t, sink.queued)
}

func TestSubmitQueuesWhileTurnActive(t *testing.T) {
	sink := &fakeSink{}
	rt := newTestRuntime(sink)
	rt.BeginTurn(1)

	err := rt.Submit(context.Background(), UserMessage{DisplayText: "second", OrderedItems: []Item{{Kind: ItemText, Text: "second"}}})
	require.NoError(t, err)
	require.Nil(t, sink.direct)

	require.NoError(t, rt.EndTurn(context.Background()))
	require.Len(t, sink.direct, 1)
	require.Equal(t, "second", sink.direct[0].Text)
}

func TestExpandPromptSplitsNonMultilineSafeBuiltin(t *testing.T) {
	rt := newTestRuntime(&fakeSink{})
	msgs, notice := rt.ExpandPrompt("/status\nsome extra body text")
	require.Nil(t, notice)
	require.Len(t, msgs, 2)
	require.Equal(t, "/status", msgs[0].DisplayText)
	require.Equal(t, "some extra body text", msgs[1].DisplayText)
}

func TestExpandPromptKeepsMultilineSafeBuiltinWhole(t *testing.T) {
	rt := newTestRuntime(&fakeSink{})
	msgs, notice := rt.ExpandPrompt("/plan\nstep one\nstep two")
	require.Nil(t, notice)
	require.Len(t, msgs, 1)
	require.Equal(t, "/plan\nstep one\nstep two", msgs[0].DisplayText)
}

type fakePrompts struct{}

func (fakePrompts) Expand(name, args string) (string, bool) {
	if name == "review-checklist" {
		return "expanded: " + args, true
	}
	return "", false
}

func TestExpandPromptResolvesCustomPrompt(t *testing.T) {
	rt := newTestRuntime(&fakeSink{})
	rt.prompts = fakePrompts{}
	msgs, notice := rt.ExpandPrompt("/review-checklist focus on auth")
	require.Nil(t, notice)
	require.Len(t, msgs, 1)
	require.Equal(t, "expanded: focus on auth", msgs[0].DisplayText)
}

type fakeSubagents struct{}

func (fakeSubagents) Lookup(name string) (SubagentConfig, bool) {
	if name == "reviewer" {
		return SubagentConfig{Name: "reviewer", Models: []string{"claude"}, ReadOnly: true}, true
	}
	return SubagentConfig{}, false
}

func TestExpandPromptResolvesSubagent(t *testing.T) {
	rt := newTestRuntime(&fakeSink{})
	rt.subagents = fakeSubagents{}
	msgs, notice := rt.ExpandPrompt("/reviewer check the diff")
	require.NotNil(t, notice)
	require.True(t, notice.ReadOnly)
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].DisplayText, "check the diff")
}

func TestExpandPromptUnrecognizedSlashPassesThroughSuppressed(t *testing.T) {
	rt := newTestRuntime(&fakeSink{})
	msgs, notice := rt.ExpandPrompt("/nope")
	require.Nil(t, notice)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].SuppressPersistence)
}

func TestIngestEventAssignsMonotonicKeyAndApplies(t *testing.T) {
	sink := &fakeSink{}
	rt := newTestRuntime(sink)
	rt.BeginTurn(1)

	out := int32(0)
	seq := uint64(0)
	ev := collab.ProviderEvent{RequestOrdinal: 1, OutputIndex: &out, SequenceNumber: &seq}

	mut, err := rt.IngestEvent(ev, "", func(k order.Key) history.DomainEvent {
		return history.DomainEvent{Op: history.OpInsert, Key: k, ID: 1, Record: history.PlainMessage{Role: "user", Lines: []string{"hello"}}}
	})
	require.NoError(t, err)
	require.Equal(t, history.MutInserted, mut.Kind)
}

func TestIngestEventSeedsStreamOrderOnceForRepeatedDeltas(t *testing.T) {
	sink := &fakeSink{}
	rt := newTestRuntime(sink)
	rt.BeginTurn(1)

	out := int32(0)
	var seq uint64
	next := func() collab.ProviderEvent {
		s := seq
		seq++
		return collab.ProviderEvent{RequestOrdinal: 1, OutputIndex: &out, SequenceNumber: &s}
	}

	k1 := rt.resolveKey(next(), "stream-a")
	k2 := rt.resolveKey(next(), "stream-a")
	require.Equal(t, k1, k2)
}

func TestEndTurnDrainsOneQueuedMessagePerCall(t *testing.T) {
	sink := &fakeSink{}
	rt := newTestRuntime(sink)
	rt.BeginTurn(1)

	require.NoError(t, rt.Submit(context.Background(), UserMessage{OrderedItems: []Item{{Kind: ItemText, Text: "a"}}}))
	require.NoError(t, rt.Submit(context.Background(), UserMessage{OrderedItems: []Item{{Kind: ItemText, Text: "b"}}}))

	require.NoError(t, rt.EndTurn(context.Background()))
	require.Equal(t, "a", sink.direct[0].Text)
	require.True(t, rt.TurnActive() == false)
}

func TestRestoreFromJumpBackRejectsWrongKind(t *testing.T) {
	rt := newTestRuntime(&fakeSink{})
	err := rt.RestoreFromJumpBack(AppEvent{Kind: AppEventExitRequested})
	require.Error(t, err)
}

func TestRestoreFromJumpBackAppliesSnapshot(t *testing.T) {
	sink := &fakeSink{}
	rt := newTestRuntime(sink)
	snap := rt.store.Snapshot()
	err := rt.RestoreFromJumpBack(AppEvent{Kind: AppEventJumpBack, HistorySnapshot: &snap})
	require.NoError(t, err)
	require.False(t, rt.TurnActive())
}

type fakeCompleter struct {
	calls int
}

func (f *fakeCompleter) ForceCompleteActive() []string {
	f.calls++
	return []string{"a1"}
}

func TestForceSyntheticCompletionSettlesAgentsAndSpinner(t *testing.T) {
	sink := &fakeSink{}
	rt := newTestRuntime(sink)
	completer := &fakeCompleter{}
	rt.BindAgentManager(completer)

	rt.BeginTurn(1)
	require.True(t, rt.SpinnerActive())

	require.NoError(t, rt.ForceSyntheticCompletion(context.Background()))
	require.Equal(t, 1, completer.calls)
	require.False(t, rt.TurnActive())
	require.False(t, rt.SpinnerActive())

	// A late status update with no Running agent leaves the spinner off;
	// one that still reports a Running agent re-arms it.
	rt.HandleAgentStatusUpdate(false)
	require.False(t, rt.SpinnerActive())
	rt.HandleAgentStatusUpdate(true)
	require.True(t, rt.SpinnerActive())
}

func TestEndTurnKeepsRemainingMessagesQueued(t *testing.T) {
	sink := &fakeSink{}
	rt := newTestRuntime(sink)
	rt.BeginTurn(1)

	require.NoError(t, rt.Submit(context.Background(), UserMessage{OrderedItems: []Item{{Kind: ItemText, Text: "a"}}}))
	require.NoError(t, rt.Submit(context.Background(), UserMessage{OrderedItems: []Item{{Kind: ItemText, Text: "b"}}}))
	require.NoError(t, rt.Submit(context.Background(), UserMessage{OrderedItems: []Item{{Kind: ItemText, Text: "c"}}}))

	require.NoError(t, rt.EndTurn(context.Background()))
	require.Equal(t, "a", sink.direct[0].Text)
	require.Empty(t, sink.queued)

	require.NoError(t, rt.EndTurn(context.Background()))
	require.Equal(t, "b", sink.direct[0].Text)

	require.NoError(t, rt.EndTurn(context.Background()))
	require.Equal(t, "c", sink.direct[0].Text)

	require.NoError(t, rt.EndTurn(context.Background()))
}
