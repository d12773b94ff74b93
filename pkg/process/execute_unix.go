//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/core-tools/hsu-deploy/pkg/errors"
)

// setupProcessAttributes configures Unix-specific process attributes
func setupProcessAttributes(cmd *exec.Cmd) {
	// A new process group lets SIGTERM to -pid reach the whole tree,
	// e.g. uvicorn and its reload/worker children.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func checkExecutable(path string, info os.FileInfo) error {
	if info.Mode()&0111 == 0 {
		return errors.NewPermissionError("file has no execute permission", nil).WithContext("path", path)
	}
	return nil
}
