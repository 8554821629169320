//go:build windows

package agentmgr

import "os"

// signalTerminate maps to TerminateProcess on Windows, where Go's
// os.Process.Signal only supports os.Kill.
func signalTerminate(proc *os.Process) error {
	return proc.Kill()
}
