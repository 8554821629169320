//go:build windows

package agentmgr

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/UserExistsError/conpty"
	"github.com/tuzig/vt10x"
)

// ptyHandle is the Windows ConPTY implementation of ptySession,
// matching signal_windows.go's per-OS split for cancellation.
type ptyHandle struct {
	cp   *conpty.ConPty
	term vt10x.Terminal
}

// startPTY starts cmd under a Windows ConPTY pseudo-console. ConPTY owns
// process creation itself, so unlike the POSIX path cmd is never passed
// to exec.Start: this builds the command line from cmd.Args and recovers
// cmd.Process from the ConPTY-reported pid so the rest of the manager
// (cancellation, cmd.Wait) can treat it like any other spawned process.
func startPTY(cmd *exec.Cmd) (ptySession, error) {
	commandLine := strings.Join(cmd.Args, " ")
	opts := []conpty.ConPtyOption{conpty.ConPtyDimensions(ptyCols, ptyRows)}
	if cmd.Dir != "" {
		opts = append(opts, conpty.ConPtyWorkDir(cmd.Dir))
	}
	if cmd.Env != nil {
		opts = append(opts, conpty.ConPtyEnv(cmd.Env))
	}

	cp, err := conpty.Start(commandLine, opts...)
	if err != nil {
		return nil, err
	}
	proc, err := os.FindProcess(int(cp.Pid()))
	if err != nil {
		_ = cp.Close()
		return nil, fmt.Errorf("agentmgr: pty: find ConPTY process %d: %w", cp.Pid(), err)
	}
	cmd.Process = proc

	term := vt10x.New(vt10x.WithSize(ptyCols, ptyRows))
	return &ptyHandle{cp: cp, term: term}, nil
}

func (p *ptyHandle) Read(b []byte) (int, error) { return p.cp.Read(b) }
func (p *ptyHandle) Close() error                { return p.cp.Close() }
func (p *ptyHandle) Feed(b []byte)               { _, _ = p.term.Write(b) }

func (p *ptyHandle) Lines() []string {
	lines := make([]string, ptyRows)
	for row := 0; row < ptyRows; row++ {
		var chars []rune
		for col := 0; col < ptyCols; col++ {
			g := p.term.Cell(col, row)
			if g.Char == 0 {
				chars = append(chars, ' ')
			} else {
				chars = append(chars, g.Char)
			}
		}
		lines[row] = string(chars)
	}
	return lines
}
