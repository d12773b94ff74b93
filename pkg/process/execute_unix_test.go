//go:build !windows

package process

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-deploy/pkg/descriptor"
	"github.com/core-tools/hsu-deploy/pkg/errors"
	"github.com/core-tools/hsu-deploy/pkg/logging"
	"github.com/core-tools/hsu-deploy/pkg/secrets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestFromDescriptor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "venv", "bin"), 0755))
	writeScript(t, filepath.Join(dir, "venv", "bin"), "uvicorn", "exit 0")

	resolver := secrets.NewResolver()
	resolver.LookupEnv = func(name string) (string, bool) { return "injected", name == "RESEND_API_KEY" }

	d := descriptor.ProcessDescriptor{
		Name:      "invoice-api",
		Script:    "venv/bin/uvicorn",
		Args:      "main:app --host 0.0.0.0 --port 8000",
		Cwd:       dir,
		Instances: 2,
		Env: map[string]string{
			"NODE_ENV":       "production",
			"RESEND_API_KEY": "${env:RESEND_API_KEY}",
		},
	}

	config, err := FromDescriptor(d, 1, resolver)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "venv", "bin", "uvicorn"), config.ExecutablePath)
	assert.Equal(t, []string{"main:app", "--host", "0.0.0.0", "--port", "8000"}, config.Args)
	assert.Equal(t, []string{"NODE_APP_INSTANCE=1", "NODE_ENV=production", "RESEND_API_KEY=injected"}, config.Environment)
	assert.Equal(t, dir, config.WorkingDirectory)
	assert.Equal(t, DefaultKillTimeout, config.WaitDelay)
	assert.Equal(t, "${env:RESEND_API_KEY}", d.Env["RESEND_API_KEY"], "descriptor keeps the reference")

	d.Env["RESEND_API_KEY"] = "${env:MISSING}"
	_, err = FromDescriptor(d, 0, resolver)
	assert.True(t, errors.IsConfigError(err))
}

func TestResolveExecutableFromPath(t *testing.T) {
	path := resolveExecutable("sh", t.TempDir())
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, "sh", filepath.Base(path))
}

func TestStartRunsInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "app.sh", `echo "cwd=$(pwd) env=$GREETING args=$*"; echo oops >&2`)

	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	cmd, err := Start(context.Background(), ExecutionConfig{
		ExecutablePath:   script,
		Args:             []string{"a", "b"},
		Environment:      []string{"GREETING=hello"},
		WorkingDirectory: dir,
		Stdout:           stdout,
		Stderr:           stderr,
	}, "app-0", logging.Nop())
	require.NoError(t, err)
	require.NoError(t, cmd.Wait())

	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	out := stdout.String()
	assert.True(t, strings.Contains(out, "cwd="+dir) || strings.Contains(out, "cwd="+realDir), out)
	assert.Contains(t, out, "env=hello args=a b")
	assert.Equal(t, "oops\n", stderr.String())
}

func TestStartCancelTerminatesProcessGroup(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sleeper.sh", "sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	cmd, err := Start(ctx, ExecutionConfig{ExecutablePath: script, WaitDelay: 2 * time.Second}, "sleeper-0", logging.Nop())
	require.NoError(t, err)

	started := time.Now()
	cancel()
	_ = cmd.Wait()
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestStartRejectsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	_, err := Start(context.Background(), ExecutionConfig{ExecutablePath: path}, "plain-0", logging.Nop())
	require.Error(t, err)
	assert.True(t, errors.IsPermissionError(err))
}

func TestStartRequiresExistingWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "app.sh", "exit 0")

	_, err := Start(context.Background(), ExecutionConfig{
		ExecutablePath:   script,
		WorkingDirectory: filepath.Join(dir, "gone"),
	}, "app-0", logging.Nop())
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}
