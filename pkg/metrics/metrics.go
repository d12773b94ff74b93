package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-deploy/pkg/errors"
	"github.com/core-tools/hsu-deploy/pkg/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hsu_deploy"

// Metrics holds the supervisor collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Restarts         *prometheus.CounterVec
	MemoryRestarts   *prometheus.CounterVec
	InstancesRunning *prometheus.GaugeVec
	InstanceMemory   *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Number of instance restarts.",
		}, []string{"app"}),
		MemoryRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_restarts_total",
			Help:      "Number of restarts triggered by max_memory_restart.",
		}, []string{"app"}),
		InstancesRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_running",
			Help:      "Instances currently running.",
		}, []string{"app"}),
		InstanceMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instance_memory_bytes",
			Help:      "Resident set size of each instance at the last check.",
		}, []string{"app", "instance"}),
	}

	m.registry.MustRegister(
		m.Restarts,
		m.MemoryRestarts,
		m.InstancesRunning,
		m.InstanceMemory,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger logging.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewIOError("failed to listen for metrics", err).WithContext("addr", addr)
	}
	return m.ServeListener(ctx, listener, logger)
}

func (m *Metrics) ServeListener(ctx context.Context, listener net.Listener, logger logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("Metrics server listening at %s", listener.Addr().String())
	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return errors.NewIOError("metrics server failed", err)
	}
	logger.Infof("Metrics server stopped")
	return nil
}
