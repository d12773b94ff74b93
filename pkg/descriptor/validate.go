package descriptor

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-deploy/pkg/errors"
)

// Validate checks every descriptor and the set as a whole. All problems are reported
// together inside a single ConfigError.
func Validate(descriptors []ProcessDescriptor) error {
	if len(descriptors) == 0 {
		return errors.NewConfigError("no descriptors to validate", nil)
	}

	problems := errors.NewErrorCollection()
	seen := make(map[string]int, len(descriptors))
	for i, d := range descriptors {
		if err := ValidateDescriptor(d); err != nil {
			problems.Add(fmt.Errorf("app at index %d: %w", i, err))
		}
		if d.Name == "" {
			continue
		}
		if prev, exists := seen[d.Name]; exists {
			problems.Add(errors.NewConfigError(
				fmt.Sprintf("duplicate app name '%s' found at indices %d and %d", d.Name, prev, i),
				nil,
			))
			continue
		}
		seen[d.Name] = i
	}

	if problems.HasErrors() {
		return errors.NewConfigError("invalid deployment descriptors", problems)
	}
	return nil
}

// ValidateDescriptor checks a single descriptor.
func ValidateDescriptor(d ProcessDescriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.NewConfigError("name is required", nil)
	}
	if strings.TrimSpace(d.Script) == "" {
		return errors.NewConfigError("script is required", nil).WithContext("app", d.Name)
	}
	if d.Instances < 1 {
		return errors.NewConfigError(
			fmt.Sprintf("instances must be at least 1, got %d", d.Instances),
			nil,
		).WithContext("app", d.Name)
	}
	if d.MaxMemoryRestart != "" {
		if _, err := ParseMemorySize(d.MaxMemoryRestart); err != nil {
			return errors.NewConfigError("invalid max_memory_restart", err).WithContext("app", d.Name)
		}
	}
	if _, err := d.ArgumentList(); err != nil {
		return errors.NewConfigError("invalid args", err).WithContext("app", d.Name)
	}
	for key := range d.Env {
		if err := validateEnvKey(key); err != nil {
			return errors.NewConfigError("invalid env entry", err).WithContext("app", d.Name)
		}
	}
	if d.RestartDelay < 0 {
		return errors.NewConfigError("restart_delay cannot be negative", nil).WithContext("app", d.Name)
	}
	if d.KillTimeout < 0 {
		return errors.NewConfigError("kill_timeout cannot be negative", nil).WithContext("app", d.Name)
	}
	if d.MaxRestarts < 0 {
		return errors.NewConfigError("max_restarts cannot be negative", nil).WithContext("app", d.Name)
	}
	return nil
}

func validateEnvKey(key string) error {
	if key == "" {
		return errors.NewConfigError("environment variable name cannot be empty", nil)
	}
	if strings.ContainsAny(key, "=\x00") {
		return errors.NewConfigError("environment variable name contains '=' or NUL", nil).WithContext("key", key)
	}
	return nil
}
