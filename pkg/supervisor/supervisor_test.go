package supervisor

import (
	"testing"

	"github.com/core-tools/hsu-deploy/pkg/descriptor"
	"github.com/core-tools/hsu-deploy/pkg/errors"
	"github.com/core-tools/hsu-deploy/pkg/logging"
	"github.com/core-tools/hsu-deploy/pkg/processfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLogger is a mock implementation of Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) LogLevelf(level int, format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func newMockLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("LogLevelf", mock.Anything, mock.Anything).Maybe()
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

func TestNewRejectsInvalidDescriptors(t *testing.T) {
	descs := []descriptor.ProcessDescriptor{
		{Name: "api", Script: "api.sh", Instances: 1},
		{Name: "api", Script: "other.sh", Instances: 1},
	}

	s, err := New(descs, Options{}, logging.Nop())
	assert.Nil(t, s)
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
	assert.Contains(t, err.Error(), "duplicate app name 'api'")
}

func TestNewExpandsInstances(t *testing.T) {
	descs := []descriptor.ProcessDescriptor{
		{Name: "worker", Script: "worker.sh", Instances: 3},
		{Name: "api", Script: "api.sh", Instances: 1},
	}

	s, err := New(descs, Options{}, logging.Nop())
	require.NoError(t, err)

	statuses := s.Status()
	require.Len(t, statuses, 4)
	assert.Equal(t, "api", statuses[0].App)
	for i, status := range statuses[1:] {
		assert.Equal(t, "worker", status.App)
		assert.Equal(t, i, status.Index)
		assert.Equal(t, StateStopped, status.State)
		assert.Zero(t, status.PID)
	}
}

func TestNewAppliesOptionDefaults(t *testing.T) {
	s, err := New([]descriptor.ProcessDescriptor{{Name: "api", Script: "api.sh", Instances: 1}}, Options{BackoffRate: 0.5}, logging.Nop())
	require.NoError(t, err)

	assert.Equal(t, DefaultMemoryCheckInterval, s.options.MemoryCheckInterval)
	assert.Equal(t, DefaultMinUptime, s.options.MinUptime)
	assert.Equal(t, DefaultRestartDelay, s.options.DefaultRestartDelay)
	assert.Equal(t, DefaultMaxRestartDelay, s.options.MaxRestartDelay)
	assert.Equal(t, DefaultBackoffRate, s.options.BackoffRate)
	assert.NotNil(t, s.options.Resolver)
	assert.NotNil(t, s.options.MemoryReader)
}

func TestNewWarnsAboutWatch(t *testing.T) {
	logger := newMockLogger()

	_, err := New([]descriptor.ProcessDescriptor{{Name: "api", Script: "api.sh", Instances: 1, Watch: true}}, Options{}, logger)
	require.NoError(t, err)

	logger.AssertCalled(t, "Warnf", "Filesystem watching is not supported and will be ignored, app: %s", []interface{}{"api"})
}

func TestNewAssignsDefaultLogPaths(t *testing.T) {
	dir := t.TempDir()
	files := processfile.NewProcessFileManager(processfile.ProcessFileConfig{BaseDirectory: dir}, logging.Nop())

	descs := []descriptor.ProcessDescriptor{
		{Name: "api", Script: "api.sh", Instances: 1},
		{Name: "worker", Script: "worker.sh", Instances: 1, Logs: descriptor.LogPaths{OutFile: "/var/tmp/worker.log"}},
	}

	s, err := New(descs, Options{ProcessFiles: files}, logging.Nop())
	require.NoError(t, err)

	require.Len(t, s.instances, 2)
	assert.Equal(t, files.GenerateLogFilePath("api", "out"), s.instances[0].desc.Logs.OutFile)
	assert.Equal(t, files.GenerateLogFilePath("api", "error"), s.instances[0].desc.Logs.ErrorFile)
	assert.Equal(t, descriptor.LogPaths{OutFile: "/var/tmp/worker.log"}, s.instances[1].desc.Logs)

	// the caller's descriptors are left untouched
	assert.Equal(t, descriptor.LogPaths{}, descs[0].Logs)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"process error", errors.NewProcessError("failed to start the process", nil), true},
		{"config error", errors.NewConfigError("failed to resolve environment", nil), false},
		{"validation error", errors.NewValidationError("path is a directory", nil), false},
		{"permission error", errors.NewPermissionError("process is not executable", nil), false},
		{"io error", errors.NewIOError("failed to open log file", nil), false},
		{"wrapped io error", errors.NewPermissionError("process is not executable", errors.NewIOError("file does not exist", nil)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryable(tt.err))
		})
	}
}
