package control

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/core-tools/hsu-deploy/pkg/errors"
	"github.com/core-tools/hsu-deploy/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const gracefulStopTimeout = 25 * time.Second

type ServerOptions struct {
	// Port on 127.0.0.1; 0 picks a free port.
	Port int
}

// Server exposes the standard gRPC health service. Each app name is a health
// service that is SERVING while at least one of its instances runs; the empty
// name is SERVING while any instance of any app runs.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	logger     logging.Logger

	mu      sync.Mutex
	running map[string]int
}

func NewServer(options ServerOptions, logger logging.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", options.Port))
	if err != nil {
		return nil, errors.NewIOError(fmt.Sprintf("failed to listen at port %d", options.Port), err)
	}

	logger.Infof("Control server listening at %s", listener.Addr().String())

	grpcServer := grpc.NewServer(
		grpc.WriteBufferSize(1*1024*1024),
		grpc.InitialWindowSize(1*1024*1024),
		grpc.InitialConnWindowSize(1*1024*1024),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		listener:   listener,
		logger:     logger,
		running:    make(map[string]int),
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// AppStatusChanged updates the health status of app and of the supervisor as a whole.
func (s *Server) AppStatusChanged(app string, runningInstances int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running[app] = runningInstances
	total := 0
	for _, n := range s.running {
		total += n
	}

	status := servingStatus(runningInstances)
	s.logger.Debugf("Health status, app: %s, running: %d, status: %s", app, runningInstances, status)
	s.health.SetServingStatus(app, status)
	s.health.SetServingStatus("", servingStatus(total))
}

func servingStatus(running int) healthpb.HealthCheckResponse_ServingStatus {
	if running > 0 {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Run serves until ctx is done, then stops gracefully, forcing the stop
// if in-flight calls take longer than the graceful timeout.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			s.logger.Errorf("Control server Serve failed: %v", err)
			return errors.NewIOError("control server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Infof("Stopping control server...")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Infof("Control server stopped gracefully")
	case <-time.After(gracefulStopTimeout):
		s.logger.Warnf("Control server shutdown timed out, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}
