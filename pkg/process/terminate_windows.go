//go:build windows

package process

import (
	"fmt"
	"os"
)

// SendTerminationSignal stops the process. Console control events cannot be
// targeted at a single group reliably from a service, so this is a hard stop.
func SendTerminationSignal(pid int) error {
	return KillProcessGroup(pid)
}

func KillProcessGroup(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}
