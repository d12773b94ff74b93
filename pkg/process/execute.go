package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/core-tools/hsu-deploy/pkg/descriptor"
	"github.com/core-tools/hsu-deploy/pkg/errors"
	"github.com/core-tools/hsu-deploy/pkg/logging"
	"github.com/core-tools/hsu-deploy/pkg/secrets"
)

// DefaultKillTimeout mirrors pm2: SIGKILL follows SIGTERM after 1.6s.
const DefaultKillTimeout = 1600 * time.Millisecond

type ExecutionConfig struct {
	ExecutablePath   string
	Args             []string
	Environment      []string
	WorkingDirectory string
	WaitDelay        time.Duration
	Stdout           io.Writer
	Stderr           io.Writer
}

// FromDescriptor builds the execution config of one instance. Secret references in
// the environment are resolved here, at start time, and never written back.
func FromDescriptor(d descriptor.ProcessDescriptor, instance int, resolver *secrets.Resolver) (ExecutionConfig, error) {
	args, err := d.ArgumentList()
	if err != nil {
		return ExecutionConfig{}, err
	}

	env, err := resolver.Resolve(d.Env)
	if err != nil {
		return ExecutionConfig{}, errors.NewConfigError("failed to resolve environment", err).WithContext("app", d.Name)
	}
	if _, set := env["NODE_APP_INSTANCE"]; !set {
		env["NODE_APP_INSTANCE"] = fmt.Sprintf("%d", instance)
	}

	waitDelay := d.KillTimeout.Std()
	if waitDelay == 0 {
		waitDelay = DefaultKillTimeout
	}

	return ExecutionConfig{
		ExecutablePath:   resolveExecutable(d.Script, d.Cwd),
		Args:             args,
		Environment:      envList(env),
		WorkingDirectory: d.Cwd,
		WaitDelay:        waitDelay,
	}, nil
}

// resolveExecutable looks for script relative to cwd first, then on PATH for bare names.
func resolveExecutable(script, cwd string) string {
	if filepath.IsAbs(script) {
		return script
	}
	if cwd != "" {
		candidate := filepath.Join(cwd, script)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if !strings.ContainsRune(script, filepath.Separator) && !strings.ContainsRune(script, '/') {
		if found, err := exec.LookPath(script); err == nil {
			return found
		}
	}
	if cwd != "" {
		return filepath.Join(cwd, script)
	}
	return script
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// Start launches the process in its own process group. Cancelling ctx sends the
// termination signal to the group; the process is killed if it is still alive
// WaitDelay later. The caller must Wait on the returned command.
func Start(ctx context.Context, execution ExecutionConfig, id string, logger logging.Logger) (*exec.Cmd, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, err
	}

	if err := ensureExecutable(execution.ExecutablePath); err != nil {
		return nil, errors.NewPermissionError("process is not executable", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	workDir := execution.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(execution.ExecutablePath)
		if err != nil {
			return nil, errors.NewIOError("failed to get absolute path", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}
		workDir = filepath.Dir(absPath)
	}

	logger.Debugf("Executing process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, execution.ExecutablePath, execution.Args, workDir)

	cmd := exec.CommandContext(ctx, execution.ExecutablePath, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), execution.Environment...)
	cmd.Stdout = execution.Stdout
	cmd.Stderr = execution.Stderr

	// Platform-specific setup is handled in execute_windows.go or execute_unix.go
	setupProcessAttributes(cmd)

	cmd.Cancel = func() error {
		return SendTerminationSignal(cmd.Process.Pid)
	}
	// wait after sending the termination signal, before sending the kill signal
	cmd.WaitDelay = execution.WaitDelay

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError("failed to start the process", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	logger.Infof("Started process, id: %s, PID: %d", id, cmd.Process.Pid)
	return cmd, nil
}

// ensureExecutable checks that path is a regular file with an execute bit set
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}
	if info.IsDir() {
		return errors.NewValidationError("path is a directory", nil).WithContext("path", path)
	}
	return checkExecutable(path, info)
}
