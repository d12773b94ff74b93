package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-deploy/pkg/control"
	"github.com/core-tools/hsu-deploy/pkg/descriptor"
	"github.com/core-tools/hsu-deploy/pkg/errors"
	"github.com/core-tools/hsu-deploy/pkg/logging"
	"github.com/core-tools/hsu-deploy/pkg/metrics"
	"github.com/core-tools/hsu-deploy/pkg/processfile"
	"github.com/core-tools/hsu-deploy/pkg/supervisor"
)

type fileArgument struct {
	File string `positional-arg-name:"file" required:"yes" description:"ecosystem file (.yaml, .yml, .json or .js)"`
}

type validateCommand struct {
	Args fileArgument `positional-args:"yes"`

	global *globalOptions
}

func (c *validateCommand) Execute(args []string) error {
	logger, flush, err := c.global.newLogger("loader")
	if err != nil {
		return err
	}
	defer flush()

	descs, err := descriptor.LoadDescriptorsFromFile(c.Args.File, logger)
	if err != nil {
		return err
	}

	leaks := descriptor.CheckAllEnvironmentLeaks(descs)
	for _, leak := range leaks {
		fmt.Fprintf(c.global.stdout, "warning: %s\n", leak)
	}
	fmt.Fprintf(c.global.stdout, "%s: %d app(s) valid, %d plaintext secret warning(s)\n", c.Args.File, len(descs), len(leaks))
	return nil
}

type showCommand struct {
	Args fileArgument `positional-args:"yes"`

	global *globalOptions
}

func (c *showCommand) Execute(args []string) error {
	logger, flush, err := c.global.newLogger("loader")
	if err != nil {
		return err
	}
	defer flush()

	descs, err := descriptor.LoadDescriptorsFromFile(c.Args.File, logger)
	if err != nil {
		return err
	}

	redacted := make([]descriptor.ProcessDescriptor, 0, len(descs))
	for _, d := range descs {
		redacted = append(redacted, descriptor.Redact(d))
	}
	data, err := descriptor.Marshal(redacted)
	if err != nil {
		return err
	}
	_, err = c.global.stdout.Write(data)
	return err
}

type startCommand struct {
	Port                int           `long:"port" description:"gRPC health port on 127.0.0.1; 0 disables the control server"`
	MetricsAddr         string        `long:"metrics-addr" description:"address to serve Prometheus /metrics on, e.g. 127.0.0.1:9464"`
	PIDDir              string        `long:"pid-dir" description:"directory for PID files and default log files"`
	MemoryCheckInterval time.Duration `long:"memory-check-interval" default:"5s" description:"how often max_memory_restart is checked"`

	Args fileArgument `positional-args:"yes"`

	global *globalOptions
}

func (c *startCommand) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.run(ctx)
}

// run supervises until ctx is done or every instance has finished on its own.
func (c *startCommand) run(ctx context.Context) error {
	logger, flush, err := c.global.newLogger("supervisor")
	if err != nil {
		return err
	}
	defer flush()

	descs, err := descriptor.LoadDescriptorsFromFile(c.Args.File, logger)
	if err != nil {
		return err
	}

	scenario := "system"
	if os.Geteuid() != 0 {
		scenario = "user"
	}
	files := processfile.NewProcessFileManager(
		processfile.GetRecommendedProcessFileConfig(scenario, c.PIDDir),
		logging.WithPrefix(logger, logPrefix("processfile")))

	m := metrics.New()
	options := supervisor.Options{
		MemoryCheckInterval: c.MemoryCheckInterval,
		ProcessFiles:        files,
		Metrics:             m,
	}

	var server *control.Server
	if c.Port > 0 {
		server, err = control.NewServer(control.ServerOptions{Port: c.Port}, logging.WithPrefix(logger, logPrefix("control")))
		if err != nil {
			return err
		}
		options.Listener = server
	}

	sup, err := supervisor.New(descs, options, logger)
	if err != nil {
		return err
	}

	// a failing side server stops the supervisor as well
	sideCtx, cancelSide := context.WithCancel(ctx)
	defer cancelSide()

	var wg sync.WaitGroup
	var mu sync.Mutex
	collection := errors.NewErrorCollection()
	runSide := func(run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(sideCtx); err != nil {
				mu.Lock()
				collection.Add(err)
				mu.Unlock()
				cancelSide()
			}
		}()
	}

	if server != nil {
		runSide(server.Run)
	}
	if c.MetricsAddr != "" {
		runSide(func(ctx context.Context) error {
			return m.Serve(ctx, c.MetricsAddr, logging.WithPrefix(logger, logPrefix("metrics")))
		})
	}

	supErr := sup.Run(sideCtx)
	cancelSide()
	wg.Wait()

	collection.Add(supErr)
	for _, status := range sup.Status() {
		logger.Infof("Final state, app: %s, instance: %d, state: %s, restarts: %d, last exit: %s",
			status.App, status.Index, status.State, status.Restarts, status.LastExit)
	}
	return collection.ToError()
}
