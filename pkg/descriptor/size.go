package descriptor

import (
	"strings"

	"github.com/core-tools/hsu-deploy/pkg/errors"

	"github.com/docker/go-units"
	"github.com/mattn/go-shellwords"
)

// ParseMemorySize converts a byte-size string ("1G", "512M", "300MB", "1048576") to bytes.
// Suffixes are binary multiples, matching how pm2 reads max_memory_restart.
func ParseMemorySize(size string) (int64, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return 0, errors.NewConfigError("memory size cannot be empty", nil)
	}
	bytes, err := units.RAMInBytes(size)
	if err != nil {
		return 0, errors.NewConfigError("invalid memory size", err).WithContext("value", size)
	}
	if bytes <= 0 {
		return 0, errors.NewConfigError("memory size must be positive", nil).WithContext("value", size)
	}
	return bytes, nil
}

func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	parsed, err := shellwords.Parse(args)
	if err != nil {
		return nil, errors.NewConfigError("invalid argument string", err).WithContext("args", args)
	}
	return parsed, nil
}
