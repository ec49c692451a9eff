// Package grpcserver serves the standard gRPC health service, with one entry
// per backing dependency.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-sync/internal/observability"
)

// Check probes one dependency. Name becomes the health service name.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	checks []Check
	log    *zap.Logger
}

func New(log *zap.Logger, checks ...Check) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		grpc: grpc.NewServer(
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
			grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
		),
		health: health.NewServer(),
		checks: checks,
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Refresh runs every probe and publishes the results. The overall status ("")
// is SERVING only when all probes pass.
func (s *Server) Refresh(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, c := range s.checks {
		status := healthpb.HealthCheckResponse_SERVING
		if err := c.Probe(ctx); err != nil {
			s.log.Warn("health probe failed", zap.String("check", c.Name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
		}
		s.health.SetServingStatus(c.Name, status)
	}
	s.health.SetServingStatus("", overall)
}

// Watch refreshes the statuses every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			s.Refresh(probeCtx)
			cancel()
		}
	}
}

// Serve blocks until the listener fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
