package wait

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opencoder/agentshell/internal/agentmgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	mu     sync.Mutex
	agents map[string]agentmgr.Agent
}

func newFakeManager() *fakeManager {
	return &fakeManager{agents: make(map[string]agentmgr.Agent)}
}

func (f *fakeManager) put(a agentmgr.Agent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[a.ID] = a
}

func (f *fakeManager) GetAgent(id string) (agentmgr.Agent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	return a, ok
}

func (f *fakeManager) ListAgents(statusFilter *agentmgr.Status, batchID string, recentOnly bool) []agentmgr.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []agentmgr.Agent
	for _, a := range f.agents {
		if batchID != "" && a.BatchID != batchID {
			continue
		}
		out = append(out, a)
	}
	return out
}

func TestWaitSingleReturnsOnTerminalTransition(t *testing.T) {
	mgr := newFakeManager()
	mgr.put(agentmgr.Agent{ID: "a1", Status: agentmgr.StatusRunning})
	c := NewCoordinator(mgr)

	go func() {
		time.Sleep(20 * time.Millisecond)
		mgr.put(agentmgr.Agent{ID: "a1", Status: agentmgr.StatusCompleted})
	}()

	res := c.WaitSingle(context.Background(), "a1", 5)
	assert.Equal(t, StateTerminalReturned, res.State)
	assert.Equal(t, agentmgr.StatusCompleted, res.Agent.Status)
}

func TestWaitInterruptedResolvesWithinOneTick(t *testing.T) {
	mgr := newFakeManager()
	mgr.put(agentmgr.Agent{ID: "a1", Status: agentmgr.StatusRunning})
	c := NewCoordinator(mgr)

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Interrupt()
	}()

	res := c.WaitSingle(context.Background(), "a1", 60)
	assert.Equal(t, StateInterrupted, res.State)
}

func TestWaitBatchSequentialMarksSeenOnce(t *testing.T) {
	mgr := newFakeManager()
	mgr.put(agentmgr.Agent{ID: "a1", BatchID: "b1", Status: agentmgr.StatusCompleted})
	mgr.put(agentmgr.Agent{ID: "a2", BatchID: "b1", Status: agentmgr.StatusRunning})
	c := NewCoordinator(mgr)

	first := c.WaitBatchSequential(context.Background(), "b1", 5)
	require.Equal(t, StateTerminalReturned, first.State)
	assert.Equal(t, "a1", first.Agent.ID)

	go func() {
		time.Sleep(20 * time.Millisecond)
		mgr.put(agentmgr.Agent{ID: "a2", BatchID: "b1", Status: agentmgr.StatusCompleted})
	}()
	second := c.WaitBatchSequential(context.Background(), "b1", 5)
	require.Equal(t, StateTerminalReturned, second.State)
	assert.Equal(t, "a2", second.Agent.ID)
}

func TestWaitBatchAllTimesOutWhenNotAllTerminal(t *testing.T) {
	mgr := newFakeManager()
	mgr.put(agentmgr.Agent{ID: "a1", BatchID: "b1", Status: agentmgr.StatusCompleted})
	mgr.put(agentmgr.Agent{ID: "a2", BatchID: "b1", Status: agentmgr.StatusRunning})
	c := NewCoordinator(mgr)

	res := c.WaitBatchAll(context.Background(), "b1", 1)
	assert.Equal(t, StateTimedOut, res.State)
}
