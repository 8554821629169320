//go:build !windows

// PTY-backed spawn path: some
// CLI agents only stream progress cleanly when attached to a real tty
// (they detect a pipe and fall back to a quieter, less useful output
// mode, or render a full-screen TUI that only makes sense under a
// terminal emulator).
package agentmgr

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
	"github.com/tuzig/vt10x"
)

// ptyHandle is the POSIX pty implementation of ptySession.
type ptyHandle struct {
	f    *os.File
	term vt10x.Terminal
}

func startPTY(cmd *exec.Cmd) (ptySession, error) {
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	term := vt10x.New(vt10x.WithSize(ptyCols, ptyRows))
	return &ptyHandle{f: f, term: term}, nil
}

func (p *ptyHandle) Read(b []byte) (int, error) { return p.f.Read(b) }
func (p *ptyHandle) Close() error                { return p.f.Close() }
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
