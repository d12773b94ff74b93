package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/core-tools/hsu-deploy/pkg/descriptor"
	"github.com/core-tools/hsu-deploy/pkg/errors"
	"github.com/core-tools/hsu-deploy/pkg/logging"
	"github.com/core-tools/hsu-deploy/pkg/metrics"
	"github.com/core-tools/hsu-deploy/pkg/processfile"
	"github.com/core-tools/hsu-deploy/pkg/secrets"
)

const (
	DefaultMemoryCheckInterval = 5 * time.Second
	DefaultMinUptime           = 1 * time.Second
	DefaultRestartDelay        = 1 * time.Second
	DefaultMaxRestartDelay     = 30 * time.Second
	DefaultBackoffRate         = 1.5
)

// StatusListener is told how many instances of an app are running whenever that number changes.
type StatusListener interface {
	AppStatusChanged(app string, runningInstances int)
}

type Options struct {
	MemoryCheckInterval time.Duration
	// An instance that stayed up at least MinUptime resets its restart backoff.
	MinUptime           time.Duration
	DefaultRestartDelay time.Duration
	MaxRestartDelay     time.Duration
	BackoffRate         float64

	// Optional collaborators; nil disables the feature.
	ProcessFiles *processfile.ProcessFileManager
	Metrics      *metrics.Metrics
	Listener     StatusListener

	Resolver     *secrets.Resolver
	MemoryReader MemoryReader
}

func (o *Options) setDefaults() {
	if o.MemoryCheckInterval <= 0 {
		o.MemoryCheckInterval = DefaultMemoryCheckInterval
	}
	if o.MinUptime <= 0 {
		o.MinUptime = DefaultMinUptime
	}
	if o.DefaultRestartDelay <= 0 {
		o.DefaultRestartDelay = DefaultRestartDelay
	}
	if o.MaxRestartDelay <= 0 {
		o.MaxRestartDelay = DefaultMaxRestartDelay
	}
	if o.BackoffRate < 1 {
		o.BackoffRate = DefaultBackoffRate
	}
	if o.Resolver == nil {
		o.Resolver = secrets.NewResolver()
	}
	if o.MemoryReader == nil {
		o.MemoryReader = NewProcessTreeMemoryReader()
	}
}

// Supervisor keeps Instances copies of every descriptor running.
type Supervisor struct {
	options   Options
	logger    logging.Logger
	instances []*instance

	mu      sync.Mutex
	running map[string]int
}

// New validates the descriptors and prepares one instance per requested copy.
// Nothing is started until Run.
func New(descriptors []descriptor.ProcessDescriptor, options Options, logger logging.Logger) (*Supervisor, error) {
	if err := descriptor.Validate(descriptors); err != nil {
		return nil, err
	}
	options.setDefaults()

	s := &Supervisor{
		options: options,
		logger:  logger,
		running: make(map[string]int),
	}

	for _, d := range descriptors {
		d = d.Clone()
		if d.Watch {
			logger.Warnf("Filesystem watching is not supported and will be ignored, app: %s", d.Name)
		}
		if d.Logs == (descriptor.LogPaths{}) && options.ProcessFiles != nil {
			d.Logs = descriptor.LogPaths{
				OutFile:   options.ProcessFiles.GenerateLogFilePath(d.Name, "out"),
				ErrorFile: options.ProcessFiles.GenerateLogFilePath(d.Name, "error"),
			}
			logger.Infof("No log files declared, using defaults, app: %s, out: %s, error: %s", d.Name, d.Logs.OutFile, d.Logs.ErrorFile)
		}
		threshold, err := d.MemoryThreshold()
		if err != nil {
			return nil, err
		}

		for i := 0; i < d.Instances; i++ {
			id := d.InstanceID(i)
			s.instances = append(s.instances, &instance{
				desc:            d,
				index:           i,
				id:              id,
				memoryThreshold: threshold,
				supervisor:      s,
				logger:          logging.WithPrefix(logger, fmt.Sprintf("instance: %s, ", id)),
				status: InstanceStatus{
					App:   d.Name,
					Index: i,
					State: StateStopped,
				},
			})
		}
		s.running[d.Name] = 0
	}

	return s, nil
}

// Run starts every instance and blocks until ctx is done and all instances have
// stopped, or until every instance has finished on its own (autorestart off,
// max_restarts exhausted, unrecoverable start error). The returned error
// aggregates instances that ended in the errored state.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Infof("Starting %d instance(s)", len(s.instances))

	for app := range s.running {
		s.notify(app, 0)
	}

	var wg sync.WaitGroup
	results := make([]error, len(s.instances))
	for i, inst := range s.instances {
		wg.Add(1)
		go func(i int, inst *instance) {
			defer wg.Done()
			results[i] = inst.run(ctx)
		}(i, inst)
	}
	wg.Wait()

	collection := errors.NewErrorCollection()
	for _, err := range results {
		collection.Add(err)
	}

	s.logger.Infof("All instances stopped")
	return collection.ToError()
}

// Status returns a snapshot of every instance, ordered by app and index.
func (s *Supervisor) Status() []InstanceStatus {
	statuses := make([]InstanceStatus, 0, len(s.instances))
	for _, inst := range s.instances {
		statuses = append(statuses, inst.snapshot())
	}
	sort.SliceStable(statuses, func(i, j int) bool {
		if statuses[i].App != statuses[j].App {
			return statuses[i].App < statuses[j].App
		}
		return statuses[i].Index < statuses[j].Index
	})
	return statuses
}

func (s *Supervisor) instanceStarted(app string) {
	s.mu.Lock()
	s.running[app]++
	count := s.running[app]
	s.mu.Unlock()
	s.notify(app, count)
}

func (s *Supervisor) instanceExited(app string) {
	s.mu.Lock()
	if s.running[app] > 0 {
		s.running[app]--
	}
	count := s.running[app]
	s.mu.Unlock()
	s.notify(app, count)
}

func (s *Supervisor) notify(app string, count int) {
	if s.options.Metrics != nil {
		s.options.Metrics.InstancesRunning.WithLabelValues(app).Set(float64(count))
	}
	if s.options.Listener != nil {
		s.options.Listener.AppStatusChanged(app, count)
	}
}
