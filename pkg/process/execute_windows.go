//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setupProcessAttributes puts the child in its own process group so it can be
// terminated without affecting the supervisor's console.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// Windows has no execute bit; any existing file is accepted.
func checkExecutable(path string, info os.FileInfo) error {
	return nil
}
