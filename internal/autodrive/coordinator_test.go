package autodrive

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	prompt            string
	suppressUIContext bool
	calls             int
}

func (f *fakeScheduler) ScheduleAutoCLIPrompt(ctx context.Context, prompt string, suppressUIContext bool) error {
	f.prompt = prompt
	f.suppressUIContext = suppressUIContext
	f.calls++
	return nil
}

type fakeWritePolicy struct {
	allowed bool
	enabled bool
}

func (f *fakeWritePolicy) WriteAllowed() bool   { return f.allowed }
func (f *fakeWritePolicy) EnableWriteForTurn()  { f.enabled = true }

// A blocking decision with a CLI prompt and one read-only agent must
// stage the agent, keep write mode untouched, and build an
// English-only agent message.
func TestBlockingDecisionBuildsCLIAndAgents(t *testing.T) {
	state := NewState(true, false)
	sched := &fakeScheduler{}
	policy := &fakeWritePolicy{allowed: true}

	c := NewCoordinator(state, sched, policy, nil, nil)

	err := c.HandleDecision(context.Background(), Decision{
		Status: "continue",
		Goal:   "Refine goal",
		CLI:    &CLIStep{Prompt: "Run cargo test"},
		AgentsTiming: TimingBlocking,
		Agents: []AgentAction{{Prompt: "Draft alternative fix", Write: false}},
	})
	require.NoError(t, err)

	require.Equal(t, "Run cargo test", state.CurrentCLIPrompt)
	require.Len(t, state.PendingAgentActions, 1)
	require.False(t, policy.enabled, "write=false agent must not flip write mode")

	msg := BuildAgentMessage(state.CurrentCLIContext, state.CurrentCLIPrompt, state.PendingAgentActions, state.PendingAgentTiming)
	require.Contains(t, msg, "Launch these agents first")
	require.NotContains(t, msg, `{"action"`)
}

func TestWriteAgentEnablesWriteModeNotice(t *testing.T) {
	state := NewState(true, false)
	sched := &fakeScheduler{}
	policy := &fakeWritePolicy{allowed: false}
	var notices []string
	pub := noticeFunc(func(s string) { notices = append(notices, s) })

	c := NewCoordinator(state, sched, policy, pub, nil)
	err := c.HandleDecision(context.Background(), Decision{
		Agents: []AgentAction{{Prompt: "refactor the parser", Write: true}},
	})
	require.NoError(t, err)
	require.True(t, policy.enabled)
	require.True(t, len(notices) == 1 && strings.Contains(notices[0], "write mode"))
}

func TestGoalBootstrapPromotesOnFirstRealGoal(t *testing.T) {
	state := NewState(true, false)
	require.True(t, state.GoalIsBootstrap())

	state.PromoteGoal("")
	require.True(t, state.GoalIsBootstrap())

	state.PromoteGoal("Ship the release")
	require.False(t, state.GoalIsBootstrap())
	require.Equal(t, "Ship the release", state.Goal)
}

type noticeFunc func(string)

func (f noticeFunc) PublishNotice(s string) { f(s) }
