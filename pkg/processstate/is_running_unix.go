//go:build !windows

package processstate

import (
	"errors"
	"os"
	"syscall"

	domainerrors "github.com/core-tools/hsu-deploy/pkg/errors"
)

// IsProcessRunning reports whether pid refers to a live process.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, domainerrors.NewValidationError("PID must be positive", nil).WithContext("pid", pid)
	}

	// On Unix FindProcess always succeeds; signal 0 probes for existence.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return false, nil
	case errors.Is(err, syscall.EPERM):
		// exists but owned by someone else
		return true, nil
	default:
		return false, err
	}
}
