package supervisor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-deploy/pkg/descriptor"
	"github.com/core-tools/hsu-deploy/pkg/errors"
	"github.com/core-tools/hsu-deploy/pkg/logging"
	"github.com/core-tools/hsu-deploy/pkg/process"
	"github.com/core-tools/hsu-deploy/pkg/processlog"
	"github.com/core-tools/hsu-deploy/pkg/processstate"
)

type InstanceState string

const (
	StateStarting InstanceState = "starting"
	StateRunning  InstanceState = "running"
	StateStopped  InstanceState = "stopped"
	StateErrored  InstanceState = "errored"
)

type InstanceStatus struct {
	App       string        `json:"app"`
	Index     int           `json:"index"`
	PID       int           `json:"pid,omitempty"`
	State     InstanceState `json:"state"`
	Restarts  int           `json:"restarts"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	LastExit  string        `json:"last_exit,omitempty"`
}

type instance struct {
	desc            descriptor.ProcessDescriptor
	index           int
	id              string
	memoryThreshold int64
	supervisor      *Supervisor
	logger          logging.Logger

	mu     sync.Mutex
	status InstanceStatus
}

func (i *instance) snapshot() InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

func (i *instance) update(fn func(*InstanceStatus)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fn(&i.status)
}

type runResult struct {
	startErr        error
	exitErr         error
	uptime          time.Duration
	memoryTriggered bool
}

// run is the restart loop of one instance.
func (i *instance) run(ctx context.Context) error {
	options := i.supervisor.options
	baseDelay := i.desc.RestartDelay.Std()
	if baseDelay <= 0 {
		baseDelay = options.DefaultRestartDelay
	}
	delay := baseDelay
	consecutive := 0

	i.checkStalePIDFile()

	for {
		result := i.runOnce(ctx)

		if ctx.Err() != nil {
			i.update(func(s *InstanceStatus) { s.State = StateStopped })
			return nil
		}

		if result.startErr != nil && !isRetryable(result.startErr) {
			i.logger.Errorf("Instance cannot be started: %v", result.startErr)
			i.update(func(s *InstanceStatus) {
				s.State = StateErrored
				s.LastExit = result.startErr.Error()
			})
			return result.startErr
		}

		if !i.desc.AutoRestart && !result.memoryTriggered {
			i.logger.Infof("Instance exited and autorestart is off, exit: %v", describeExit(result))
			i.update(func(s *InstanceStatus) { s.State = StateStopped })
			return nil
		}

		if result.uptime >= options.MinUptime {
			consecutive = 0
			delay = baseDelay
		}
		consecutive++

		if i.desc.MaxRestarts > 0 && consecutive > i.desc.MaxRestarts {
			err := errors.NewProcessError("max restarts exceeded", result.exitErr).
				WithContext("instance", i.id).
				WithContext("max_restarts", i.desc.MaxRestarts)
			i.logger.Errorf("Giving up after %d consecutive restarts", i.desc.MaxRestarts)
			i.update(func(s *InstanceStatus) { s.State = StateErrored })
			return err
		}

		i.logger.Warnf("Restarting in %v, exit: %v, consecutive restarts: %d", delay, describeExit(result), consecutive)
		if options.Metrics != nil {
			options.Metrics.Restarts.WithLabelValues(i.desc.Name).Inc()
		}
		i.update(func(s *InstanceStatus) {
			s.Restarts++
			s.State = StateStarting
		})

		select {
		case <-ctx.Done():
			i.update(func(s *InstanceStatus) { s.State = StateStopped })
			return nil
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * options.BackoffRate)
		if delay > options.MaxRestartDelay {
			delay = options.MaxRestartDelay
		}
	}
}

func (i *instance) runOnce(ctx context.Context) runResult {
	options := i.supervisor.options
	i.update(func(s *InstanceStatus) {
		s.State = StateStarting
		s.PID = 0
	})

	execution, err := process.FromDescriptor(i.desc, i.index, options.Resolver)
	if err != nil {
		return runResult{startErr: err}
	}

	sink, err := processlog.Open(i.desc.Logs, processlog.Options{Timestamp: i.desc.Time})
	if err != nil {
		return runResult{startErr: err}
	}
	defer func() {
		if err := sink.Close(); err != nil {
			i.logger.Warnf("Failed to close log files: %v", err)
		}
	}()
	execution.Stdout = sink.Stdout()
	execution.Stderr = sink.Stderr()

	instanceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd, err := process.Start(instanceCtx, execution, i.id, i.logger)
	if err != nil {
		return runResult{startErr: err}
	}
	pid := cmd.Process.Pid
	startedAt := time.Now()

	if options.ProcessFiles != nil {
		if err := options.ProcessFiles.WritePIDFile(i.id, pid); err != nil {
			i.logger.Warnf("Failed to write PID file: %v", err)
		}
	}

	i.supervisor.instanceStarted(i.desc.Name)
	i.update(func(s *InstanceStatus) {
		s.PID = pid
		s.State = StateRunning
		s.StartedAt = startedAt
	})

	var memoryTriggered atomic.Bool
	watchDone := make(chan struct{})
	if i.memoryThreshold > 0 {
		go i.watchMemory(instanceCtx, pid, cancel, &memoryTriggered, watchDone)
	} else {
		close(watchDone)
	}

	exitErr := cmd.Wait()
	cancel()
	<-watchDone

	// the leader is gone; make sure nothing of its group outlives it
	_ = process.KillProcessGroup(pid)

	i.supervisor.instanceExited(i.desc.Name)
	if options.ProcessFiles != nil {
		_ = options.ProcessFiles.RemovePIDFile(i.id)
	}

	result := runResult{
		exitErr:         exitErr,
		uptime:          time.Since(startedAt),
		memoryTriggered: memoryTriggered.Load(),
	}
	i.update(func(s *InstanceStatus) {
		s.PID = 0
		s.LastExit = describeExit(result)
	})
	return result
}

// watchMemory cancels the instance once its tree's RSS exceeds the threshold.
func (i *instance) watchMemory(ctx context.Context, pid int, cancel context.CancelFunc, triggered *atomic.Bool, done chan struct{}) {
	defer close(done)
	options := i.supervisor.options

	ticker := time.NewTicker(options.MemoryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rss, err := options.MemoryReader.RSS(pid)
		if err != nil {
			i.logger.Debugf("Memory check failed, pid: %d, error: %v", pid, err)
			continue
		}
		if options.Metrics != nil {
			options.Metrics.InstanceMemory.WithLabelValues(i.desc.Name, strconv.Itoa(i.index)).Set(float64(rss))
		}
		if int64(rss) > i.memoryThreshold {
			i.logger.Warnf("Memory %d bytes exceeds max_memory_restart %s, restarting", rss, i.desc.MaxMemoryRestart)
			if options.Metrics != nil {
				options.Metrics.MemoryRestarts.WithLabelValues(i.desc.Name).Inc()
			}
			triggered.Store(true)
			cancel()
			return
		}
	}
}

// checkStalePIDFile warns when a previous run of this instance still appears to be alive.
func (i *instance) checkStalePIDFile() {
	files := i.supervisor.options.ProcessFiles
	if files == nil {
		return
	}
	pid, err := files.ReadPIDFile(i.id)
	if err != nil {
		return
	}
	if running, _ := processstate.IsProcessRunning(pid); running {
		i.logger.Warnf("PID file points to a live process (pid %d); another supervisor may be running this instance", pid)
		return
	}
	_ = files.RemovePIDFile(i.id)
}

// isRetryable separates transient start failures from descriptor or host
// problems that a restart cannot fix.
func isRetryable(err error) bool {
	return !errors.IsConfigError(err) &&
		!errors.IsValidationError(err) &&
		!errors.IsPermissionError(err) &&
		!errors.IsIOError(err)
}

func describeExit(result runResult) string {
	switch {
	case result.startErr != nil:
		return fmt.Sprintf("start failed: %v", result.startErr)
	case result.memoryTriggered:
		return "stopped for exceeding max_memory_restart"
	case result.exitErr != nil:
		return result.exitErr.Error()
	default:
		return "exit status 0"
	}
}
