package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-deploy/pkg/errors"
	"github.com/core-tools/hsu-deploy/pkg/logging"
)

// Default application name used for run and log subdirectories
const DefaultAppName = "hsu-deploy"

// ProcessFileConfig holds configuration for PID file and default log file placement
type ProcessFileConfig struct {
	// Base directory for PID files. If empty, uses OS-appropriate default
	BaseDirectory string

	// Service context - affects directory selection
	ServiceContext ServiceContext

	// Application name for subdirectory creation
	AppName string

	// Create subdirectory for the app (recommended for system services)
	UseSubdirectory bool
}

// ServiceContext defines the context in which the supervisor runs
type ServiceContext string

const (
	// SystemService runs as a system service (daemon)
	SystemService ServiceContext = "system"

	// UserService runs as a user service
	UserService ServiceContext = "user"
)

// ProcessFileManager places, writes and removes per-instance PID files
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

// NewProcessFileManager creates a new process file manager with the given configuration
func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = SystemService
	}
	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// GeneratePIDFilePath generates the PID file path for an instance, e.g. invoice-api-0.pid
func (m *ProcessFileManager) GeneratePIDFilePath(instanceID string) string {
	baseDir := m.getBaseDirectory()
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return filepath.Join(baseDir, instanceID+".pid")
}

// WritePIDFile writes the process PID for the given instance
func (m *ProcessFileManager) WritePIDFile(instanceID string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(instanceID)
	m.logger.Debugf("Writing PID file, instance: %s, pid: %d, path: %s", instanceID, pid, pidFilePath)

	if err := ValidatePIDFileDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, instance: %s, path: %s, error: %v", instanceID, pidFilePath, err)
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", pidFilePath)
	}

	pidContent := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(pidFilePath, []byte(pidContent), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, instance: %s, pid: %d, path: %s, error: %v", instanceID, pid, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Debugf("PID file written, instance: %s, pid: %d, path: %s", instanceID, pid, pidFilePath)
	return nil
}

// ReadPIDFile returns the PID recorded for an instance
func (m *ProcessFileManager) ReadPIDFile(instanceID string) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(instanceID)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", pidFilePath).WithContext("content", pidStr)
	}
	return pid, nil
}

// RemovePIDFile deletes the PID file of an instance; a missing file is not an error
func (m *ProcessFileManager) RemovePIDFile(instanceID string) error {
	pidFilePath := m.GeneratePIDFilePath(instanceID)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warnf("Failed to remove PID file, instance: %s, path: %s, error: %v", instanceID, pidFilePath, err)
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	return nil
}

// GenerateLogDirectoryPath returns the directory used for logs of apps that declare none
func (m *ProcessFileManager) GenerateLogDirectoryPath() string {
	baseDir := m.getLogBaseDirectory()
	if m.config.UseSubdirectory {
		return filepath.Join(baseDir, m.config.AppName, "logs")
	}
	return filepath.Join(baseDir, "logs")
}

// GenerateLogFilePath returns <log dir>/<app>-<stream>.log, the pm2 default layout
func (m *ProcessFileManager) GenerateLogFilePath(appName, stream string) string {
	return filepath.Join(m.GenerateLogDirectoryPath(), fmt.Sprintf("%s-%s.log", appName, stream))
}

func (m *ProcessFileManager) getBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case UserService:
		return m.getUserServiceDirectory()
	default:
		return m.getSystemServiceDirectory()
	}
}

func (m *ProcessFileManager) getSystemServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = "C:\\ProgramData"
		}
		return programData

	case "darwin":
		return "/var/run"

	default:
		// Modern standard is /run, with fallback to /var/run
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func (m *ProcessFileManager) getUserServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = os.TempDir()
		}
		return localAppData

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "/tmp"
		}
		return filepath.Join(homeDir, "Library", "Application Support")

	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return "/tmp"
	}
}

func (m *ProcessFileManager) getLogBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	if m.config.ServiceContext == UserService {
		switch runtime.GOOS {
		case "windows":
			return m.getUserServiceDirectory()
		case "darwin":
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "/tmp"
			}
			return filepath.Join(homeDir, "Library", "Logs")
		default:
			if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
				return dataHome
			}
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "/tmp"
			}
			return filepath.Join(homeDir, ".local", "share")
		}
	}

	if runtime.GOOS == "windows" {
		return m.getSystemServiceDirectory()
	}
	return "/var/log"
}

// ValidatePIDFileDirectory makes sure the PID file directory exists and is writable
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
			}
		} else {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	if file, err := os.Create(testFile); err != nil {
		return errors.NewPermissionError("PID file directory is not writable", err).WithContext("directory", dir)
	} else {
		file.Close()
		os.Remove(testFile)
	}

	return nil
}

// GetRecommendedProcessFileConfig returns a configuration for a deployment scenario
func GetRecommendedProcessFileConfig(scenario string, baseDirectory string) ProcessFileConfig {
	switch strings.ToLower(scenario) {
	case "user", "personal":
		return ProcessFileConfig{
			BaseDirectory:   baseDirectory,
			ServiceContext:  UserService,
			AppName:         DefaultAppName,
			UseSubdirectory: true,
		}

	case "development", "dev", "test":
		if baseDirectory == "" {
			baseDirectory = filepath.Join(os.TempDir(), DefaultAppName+"-dev")
		}
		return ProcessFileConfig{
			BaseDirectory:   baseDirectory,
			ServiceContext:  UserService,
			AppName:         DefaultAppName,
			UseSubdirectory: false,
		}

	default:
		return ProcessFileConfig{
			BaseDirectory:   baseDirectory,
			ServiceContext:  SystemService,
			AppName:         DefaultAppName,
			UseSubdirectory: true,
		}
	}
}
