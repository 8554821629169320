//go:build !windows

package agentmgr

import (
	"os"
	"syscall"
)

// signalTerminate sends SIGTERM, the POSIX half of the cancellation
// signal.
func signalTerminate(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
