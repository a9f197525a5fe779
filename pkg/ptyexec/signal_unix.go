//go:build unix

package ptyexec

import (
	"os/exec"
	"syscall"
)

// signalName extracts the terminating signal name from an *exec.ExitError,
// empty if the process exited normally rather than being signaled.
func signalName(exitErr *exec.ExitError) string {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return ""
	}
	return status.Signal().String()
}
