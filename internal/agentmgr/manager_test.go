package agentmgr

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGit struct{}

func (fakeGit) CreateWorktree(ctx context.Context, root, branch, base string) (string, error) {
	dir, err := os.MkdirTemp(root, "wt-")
	return dir, err
}
func (fakeGit) RemoveWorktree(ctx context.Context, path string) error { return os.RemoveAll(path) }
func (fakeGit) CaptureSnapshot(ctx context.Context, repoDir string) (string, error) {
	return "deadbeef", nil
}
func (fakeGit) RestoreSnapshot(ctx context.Context, repoDir, commitID string) error { return nil }
func (fakeGit) DiffNameOnly(ctx context.Context, repoDir, from, to string) ([]string, error) {
	return nil, nil
}
func (fakeGit) NumstatSummary(ctx context.Context, repoDir, from, to string) ([]string, error) {
	return nil, nil
}

func newTestManager(t *testing.T, maxConcurrent int) *Manager {
	t.Helper()
	root := t.TempDir()
	spill := t.TempDir()
	return NewManager(fakeGit{}, t.TempDir(), root, spill, maxConcurrent, nil)
}

func waitForTerminal(t *testing.T, m *Manager, id string) Agent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		a, ok := m.GetAgent(id)
		require.True(t, ok)
		if a.Status.IsTerminal() {
			return a
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("agent %s did not reach a terminal state in time", id)
	return Agent{}
}

func TestCreateAgentReadOnlyRunsAndCompletes(t *testing.T) {
	m := newTestManager(t, DefaultMaxConcurrent)
	id, err := m.CreateAgentWithConfig(context.Background(), AgentCreateRequest{
		Model:    "echo-agent",
		Prompt:   "hello from the test",
		ReadOnly: true,
	}, &AgentConfig{Command: "/bin/echo"})
	require.NoError(t, err)

	agent := waitForTerminal(t, m, id)
	assert.Equal(t, StatusCompleted, agent.Status)
	assert.NotEmpty(t, agent.Progress)
	assert.Contains(t, agent.Progress[0], "Started with model echo-agent")
}

func TestCreateAgentMissingCommandIsSkipped(t *testing.T) {
	m := newTestManager(t, DefaultMaxConcurrent)
	_, err := m.CreateAgentWithConfig(context.Background(), AgentCreateRequest{
		Model:    "definitely-not-a-real-cli-xyz",
		Prompt:   "hello",
		ReadOnly: true,
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skipped")
}

func TestCancelAgentPendingMarksCancelledSynchronously(t *testing.T) {
	m := newTestManager(t, 0) // zero slots: agent stays Pending forever
	id, err := m.CreateAgentWithConfig(context.Background(), AgentCreateRequest{
		Model:    "echo-agent",
		Prompt:   "hello",
		ReadOnly: true,
	}, &AgentConfig{Command: "/bin/echo"})
	require.NoError(t, err)

	agent, ok := m.GetAgent(id)
	require.True(t, ok)
	require.Equal(t, StatusPending, agent.Status)

	ok = m.CancelAgent(id)
	assert.True(t, ok)
	agent, _ = m.GetAgent(id)
	assert.Equal(t, StatusCancelled, agent.Status)
}

func TestCancelBatchSkipsAutoReviewAgents(t *testing.T) {
	m := newTestManager(t, 0)
	batch := "batch-1"
	userID, err := m.CreateAgentWithConfig(context.Background(), AgentCreateRequest{
		Model: "echo-agent", Prompt: "a", ReadOnly: true, BatchID: batch, SourceKind: SourceUser,
	}, &AgentConfig{Command: "/bin/echo"})
	require.NoError(t, err)
	reviewID, err := m.CreateAgentWithConfig(context.Background(), AgentCreateRequest{
		Model: "echo-agent", Prompt: "b", ReadOnly: true, BatchID: batch, SourceKind: SourceAutoReview,
	}, &AgentConfig{Command: "/bin/echo"})
	require.NoError(t, err)

	count := m.CancelBatch(batch)
	assert.Equal(t, 1, count)

	userAgent, _ := m.GetAgent(userID)
	reviewAgent, _ := m.GetAgent(reviewID)
	assert.Equal(t, StatusCancelled, userAgent.Status)
	assert.Equal(t, StatusPending, reviewAgent.Status)
}

func TestListAgentsFiltersByStatusAndBatch(t *testing.T) {
	m := newTestManager(t, DefaultMaxConcurrent)
	id, err := m.CreateAgentWithConfig(context.Background(), AgentCreateRequest{
		Model: "echo-agent", Prompt: "hi", ReadOnly: true, BatchID: "b1",
	}, &AgentConfig{Command: "/bin/echo"})
	require.NoError(t, err)
	waitForTerminal(t, m, id)

	completed := StatusCompleted
	out := m.ListAgents(&completed, "b1", false)
	require.Len(t, out, 1)
	assert.Equal(t, id, out[0].ID)

	failed := StatusFailed
	none := m.ListAgents(&failed, "b1", false)
	assert.Empty(t, none)
}

func TestForceCompleteActiveSettlesPendingAgents(t *testing.T) {
	m := newTestManager(t, 0) // zero slots: agent stays Pending
	id, err := m.CreateAgentWithConfig(context.Background(), AgentCreateRequest{
		Model:    "echo-agent",
		Prompt:   "hello from the test",
		ReadOnly: true,
	}, &AgentConfig{Command: "/bin/echo"})
	require.NoError(t, err)

	ids := m.ForceCompleteActive()
	require.Equal(t, []string{id}, ids)

	agent, ok := m.GetAgent(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, agent.Status)
	assert.Equal(t, "terminated without a result", agent.Error)
	require.NotNil(t, agent.CompletedAt)

	// Converged: a second pass has nothing left to transition.
	assert.Empty(t, m.ForceCompleteActive())
}

func TestDeriveAgentNameFirstClauseCapped(t *testing.T) {
	cases := []struct {
		task string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"Fix the flaky login test. Then rerun CI.", "Fix the flaky login test"},
		{"run the unit tests with verbose output and report", "run the unit tests with"},
		{"\nDraft alternative fix", "Draft alternative fix"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, deriveAgentName(c.task), "task %q", c.task)
	}
}
