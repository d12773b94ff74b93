//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// SendTerminationSignal sends SIGTERM to the process group (negative PID)
// so the entire process tree is asked to stop.
func SendTerminationSignal(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// KillProcessGroup sends SIGKILL to the process group.
func KillProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
