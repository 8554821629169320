// PTY supervision. A
// RuntimePTY agent's child process is attached to a pseudo-terminal
// instead of plain stdout/stderr pipes; its raw byte stream is fed
// through a vt10x virtual-terminal screen buffer so the manager can
// recover visible text lines (stripped of ANSI cursor/color control
// sequences) to append to Agent.Progress, matching the plain-pipe path's
// line-oriented contract.
package agentmgr

import (
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	ptyCols = 220
	ptyRows = 50

	ptyPollInterval = 150 * time.Millisecond
)

// ptySession is the platform-specific pty handle; startPTY constructs one
// bound to cmd (POSIX: github.com/creack/pty, Windows:
// github.com/UserExistsError/conpty — see pty_posix.go / pty_windows.go).
type ptySession interface {
	io.ReadCloser
	// Feed pushes raw bytes read from the pty into the virtual terminal.
	Feed(b []byte)
	// Lines snapshots the terminal's current visible rows.
	Lines() []string
}

// supervisePTY reads the pty's raw byte stream, feeds it to the vt10x
// screen buffer, and
// periodically diffs the visible rows against the last snapshot so that
// only rows whose trimmed content actually changed become new
// Agent.Progress lines — matching the line-oriented contract consumers
// expect regardless of which runtime backend produced it.
func (m *Manager) supervisePTY(agent *Agent, rt *runtime, cmd *exec.Cmd, sess ptySession) {
	var mu sync.Mutex
	last := make([]string, ptyRows)
	emitted := make(map[string]bool)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 32*1024)
		for {
			n, err := sess.Read(buf)
			if n > 0 {
				mu.Lock()
				sess.Feed(buf[:n])
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	stop := make(chan struct{})
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		ticker := time.NewTicker(ptyPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.diffPTYLines(agent, sess, &mu, last, emitted)
			case <-stop:
				m.diffPTYLines(agent, sess, &mu, last, emitted)
				return
			}
		}
	}()

	<-readDone
	close(stop)
	<-pollDone
	_ = sess.Close()

	err := cmd.Wait()
	close(rt.done)

	m.mu.Lock()
	cancelled := rt.cancelled
	m.mu.Unlock()

	m.finish(agent, err, cancelled)
	m.releaseSlot()
}

func (m *Manager) diffPTYLines(agent *Agent, sess ptySession, mu *sync.Mutex, last []string, emitted map[string]bool) {
	mu.Lock()
	current := sess.Lines()
	mu.Unlock()

	for row := range current {
		if row >= len(last) {
			break
		}
		trimmed := strings.TrimRight(current[row], " ")
		if trimmed == "" || trimmed == last[row] {
			continue
		}
		last[row] = trimmed
		if emitted[trimmed] {
			continue
		}
		emitted[trimmed] = true
		m.mu.Lock()
		agent.Progress = append(agent.Progress, trimmed)
		agent.LastActivity = time.Now()
		m.mu.Unlock()
	}
}
