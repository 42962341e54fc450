package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// WorkerService is the health service name that tracks the ingestion worker.
const WorkerService = "loyalty.worker"

const defaultProbeInterval = time.Second

type WorkerProbe interface {
	Active() bool
}

// Server exposes grpc.health.v1. The overall status is SERVING while the
// process is up; WorkerService follows the worker loop.
type Server struct {
	srv      *grpc.Server
	health   *health.Server
	worker   WorkerProbe
	addr     string
	interval time.Duration
	logger   *slog.Logger
}

func NewServer(addr string, worker WorkerProbe, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		srv:      grpc.NewServer(),
		health:   health.NewServer(),
		worker:   worker,
		addr:     addr,
		interval: defaultProbeInterval,
		logger:   logger.With("component", "grpc"),
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.refresh()
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go s.watchWorker(ctx)

	s.logger.Info("gRPC health server listening", "addr", s.addr)
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	s.srv.GracefulStop()
	return nil
}

func (s *Server) watchWorker(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.worker != nil && s.worker.Active() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(WorkerService, status)
}
