package agenttool

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/opencoder/agentshell/internal/agentmgr"
	"github.com/opencoder/agentshell/internal/wait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGit struct{}

func (fakeGit) CreateWorktree(ctx context.Context, root, branch, base string) (string, error) {
	return os.MkdirTemp(root, "wt-")
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

type fakePolicy struct{}

func (fakePolicy) Resolve(model string) (*agentmgr.AgentConfig, bool, bool) {
	return &agentmgr.AgentConfig{Command: "/bin/echo"}, false, false
}
func (fakePolicy) DefaultModels() []string { return []string{"code"} }

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	mgr := agentmgr.NewManager(fakeGit{}, t.TempDir(), t.TempDir(), t.TempDir(), agentmgr.DefaultMaxConcurrent, nil)
	return &Dispatcher{
		Manager:  mgr,
		Wait:     wait.NewCoordinator(mgr),
		Policy:   fakePolicy{},
		SpillDir: t.TempDir(),
	}
}

func TestCreatePromptTooShortIsBlocked(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{
		Action: "create",
		Create: &CreateSpec{Task: "hi"},
	})

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp), &m))
	assert.Equal(t, false, m["success"])
	assert.Equal(t, "blocked", m["status"])
	assert.Equal(t, "prompt_too_short", m["reason"])
}

func TestCreateSingleModelLaunchesOneAgent(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{
		Action: "create",
		Create: &CreateSpec{Task: "run the unit tests with verbose output", Models: []string{"code"}},
	})

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp), &m))
	assert.Equal(t, true, m["success"])
	assert.NotEmpty(t, m["agent_id"])
	assert.NotEmpty(t, m["batch_id"])
}

func TestWaitReturnsAfterAgentCompletes(t *testing.T) {
	d := newTestDispatcher(t)
	createResp := d.Dispatch(context.Background(), Request{
		Action: "create",
		Create: &CreateSpec{Task: "print a short greeting to stdout", Models: []string{"code"}},
	})
	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(createResp), &created))
	agentID := created["agent_id"].(string)

	deadline := time.Now().Add(3 * time.Second)
	var waitResp string
	for time.Now().Before(deadline) {
		waitResp = d.Dispatch(context.Background(), Request{
			Action: "wait",
			Wait:   &WaitSpec{AgentID: agentID, TimeoutSeconds: 1},
		})
		var w map[string]any
		require.NoError(t, json.Unmarshal([]byte(waitResp), &w))
		if w["status"] == string(agentmgr.StatusCompleted) {
			assert.Equal(t, true, w["success"])
			return
		}
	}
	t.Fatalf("wait never observed a completed agent, last response: %s", waitResp)
}

type emptyPolicy struct{}

func (emptyPolicy) Resolve(model string) (*agentmgr.AgentConfig, bool, bool) { return nil, false, false }
func (emptyPolicy) DefaultModels() []string                                  { return nil }

func TestCreateMissingCLIReportsSkipped(t *testing.T) {
	mgr := agentmgr.NewManager(fakeGit{}, t.TempDir(), t.TempDir(), t.TempDir(), agentmgr.DefaultMaxConcurrent, nil)
	d := &Dispatcher{Manager: mgr, Wait: wait.NewCoordinator(mgr), Policy: emptyPolicy{}}

	resp := d.Dispatch(context.Background(), Request{
		Action: "create",
		Create: &CreateSpec{Task: "write a short poem about concurrency", Models: []string{"qwen"}},
	})

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp), &m))
	if _, err := exec.LookPath("qwen"); err == nil {
		t.Skip("qwen unexpectedly installed on this machine")
	}
	assert.Equal(t, false, m["success"])
	assert.Equal(t, "failed", m["status"])
	assert.Contains(t, m["message"], "No runnable agents matched the requested models. Skipped: qwen (missing: qwen)")
}

func TestWaitReturnAllSummariesIncludeOutputFile(t *testing.T) {
	d := newTestDispatcher(t)
	createResp := d.Dispatch(context.Background(), Request{
		Action: "create",
		Create: &CreateSpec{Task: "print a short greeting to stdout", Models: []string{"code"}},
	})
	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(createResp), &created))
	batchID := created["batch_id"].(string)

	waitResp := d.Dispatch(context.Background(), Request{
		Action: "wait",
		Wait:   &WaitSpec{BatchID: batchID, ReturnAll: true, TimeoutSeconds: 5},
	})
	var w map[string]any
	require.NoError(t, json.Unmarshal([]byte(waitResp), &w))
	require.Equal(t, true, w["success"])

	summaries := w["completed_summaries"].([]any)
	require.Len(t, summaries, 1)
	summary := summaries[0].(map[string]any)
	assert.Contains(t, summary["output_file"], "result.txt")
}

func TestWaitAgentBatchMismatchFailsFast(t *testing.T) {
	d := newTestDispatcher(t)
	createResp := d.Dispatch(context.Background(), Request{
		Action: "create",
		Create: &CreateSpec{Task: "print a short greeting to stdout", Models: []string{"code"}},
	})
	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(createResp), &created))
	agentID := created["agent_id"].(string)

	resp := d.Dispatch(context.Background(), Request{
		Action: "wait",
		Wait:   &WaitSpec{AgentID: agentID, BatchID: "not-the-batch", TimeoutSeconds: 1},
	})
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp), &m))
	assert.Equal(t, false, m["success"])
	assert.Contains(t, m["message"], "does not belong to batch not-the-batch")
}
