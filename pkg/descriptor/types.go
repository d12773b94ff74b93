package descriptor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Ecosystem is the document a descriptor source exports: a list of apps.
type Ecosystem struct {
	Apps []ProcessDescriptor `yaml:"apps"`
}

// ProcessDescriptor declares how to launch and supervise one process.
// Keys follow the pm2 ecosystem file naming so existing files load unchanged.
type ProcessDescriptor struct {
	Name string `yaml:"name"`

	// Script is the executable path, Args the argument string passed to it.
	Script string `yaml:"script"`
	Args   string `yaml:"args,omitempty"`

	// Cwd must exist when the process starts; it is not checked at load time.
	Cwd string `yaml:"cwd,omitempty"`

	Instances   int  `yaml:"instances"`
	AutoRestart bool `yaml:"autorestart"`
	Watch       bool `yaml:"watch"`

	// MaxMemoryRestart is a byte-size string such as "1G" or "512M".
	MaxMemoryRestart string `yaml:"max_memory_restart,omitempty"`

	Env map[string]string `yaml:"env,omitempty"`

	Logs LogPaths `yaml:",inline"`
	Time bool     `yaml:"time"`

	RestartDelay Duration `yaml:"restart_delay,omitempty"`
	MaxRestarts  int      `yaml:"max_restarts,omitempty"`
	KillTimeout  Duration `yaml:"kill_timeout,omitempty"`
}

// LogPaths holds the stdout, stderr and combined log file locations.
type LogPaths struct {
	ErrorFile    string `yaml:"error_file,omitempty"`
	OutFile      string `yaml:"out_file,omitempty"`
	CombinedFile string `yaml:"log_file,omitempty"`
}

// ArgumentList splits Args using shell quoting rules.
func (d ProcessDescriptor) ArgumentList() ([]string, error) {
	return splitArgs(d.Args)
}

// MemoryThreshold returns MaxMemoryRestart in bytes, or 0 when unset.
func (d ProcessDescriptor) MemoryThreshold() (int64, error) {
	if d.MaxMemoryRestart == "" {
		return 0, nil
	}
	return ParseMemorySize(d.MaxMemoryRestart)
}

// InstanceID names one running copy of the descriptor.
func (d ProcessDescriptor) InstanceID(index int) string {
	return fmt.Sprintf("%s-%d", d.Name, index)
}

// Clone returns a deep copy.
func (d ProcessDescriptor) Clone() ProcessDescriptor {
	clone := d
	clone.Env = nil
	if len(d.Env) > 0 {
		clone.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			clone.Env[k] = v
		}
	}
	return clone
}

// Duration accepts pm2 millisecond integers as well as Go duration strings.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	value := strings.TrimSpace(node.Value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ms > math.MaxInt64/int64(time.Millisecond) || ms < math.MinInt64/int64(time.Millisecond) {
			return fmt.Errorf("line %d: duration %s ms is out of range", node.Line, value)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	} else if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
		return fmt.Errorf("line %d: duration %s ms is out of range", node.Line, value)
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// wholeNumber rejects fractional and non-numeric scalars instead of truncating them.
type wholeNumber int

func (n *wholeNumber) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode || node.ShortTag() != "!!int" {
		return fmt.Errorf("line %d: %q is not a whole number", node.Line, node.Value)
	}
	var v int
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("line %d: %q is not a whole number: %v", node.Line, node.Value, err)
	}
	*n = wholeNumber(v)
	return nil
}

// rawDescriptor mirrors ProcessDescriptor with pointers where an omitted key has a default.
type rawDescriptor struct {
	Name             string            `yaml:"name"`
	Script           string            `yaml:"script"`
	Args             string            `yaml:"args"`
	Cwd              string            `yaml:"cwd"`
	Instances        *wholeNumber      `yaml:"instances"`
	AutoRestart      *bool             `yaml:"autorestart"`
	Watch            bool              `yaml:"watch"`
	MaxMemoryRestart string            `yaml:"max_memory_restart"`
	Env              map[string]string `yaml:"env"`
	Logs             LogPaths          `yaml:",inline"`
	Time             bool              `yaml:"time"`
	RestartDelay     Duration          `yaml:"restart_delay"`
	MaxRestarts      wholeNumber       `yaml:"max_restarts"`
	KillTimeout      Duration          `yaml:"kill_timeout"`
}

type rawEcosystem struct {
	Apps *[]rawDescriptor `yaml:"apps"`
}

func (r rawDescriptor) toDescriptor() ProcessDescriptor {
	d := ProcessDescriptor{
		Name:             r.Name,
		Script:           r.Script,
		Args:             r.Args,
		Cwd:              r.Cwd,
		Instances:        1,
		AutoRestart:      true,
		Watch:            r.Watch,
		MaxMemoryRestart: r.MaxMemoryRestart,
		Logs:             r.Logs,
		Time:             r.Time,
		RestartDelay:     r.RestartDelay,
		MaxRestarts:      int(r.MaxRestarts),
		KillTimeout:      r.KillTimeout,
	}
	if r.Instances != nil {
		d.Instances = int(*r.Instances)
	}
	if r.AutoRestart != nil {
		d.AutoRestart = *r.AutoRestart
	}
	if len(r.Env) > 0 {
		d.Env = r.Env
	}
	return d
}
