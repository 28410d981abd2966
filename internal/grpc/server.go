// Package grpc serves the gRPC health endpoint used by orchestrators and load balancers.
package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"hive-chat/internal/observability"
)

// Check reports whether a backend dependency is usable.
type Check func(ctx context.Context) error

// Server wraps a grpc.Server exposing grpc.health.v1. Each check is reported under its own
// service name; the empty service name is SERVING only while every check passes.
type Server struct {
	server   *grpc.Server
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer builds the server. Checks run every interval once Start is called.
func NewServer(checks map[string]Check, interval time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &Server{
		server: grpc.NewServer(
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
			grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
		),
		health:   health.NewServer(),
		checks:   checks,
		interval: interval,
		logger:   logger,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Probe runs every check once and publishes the results.
func (s *Server) Probe(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		status := healthpb.HealthCheckResponse_SERVING
		checkCtx, cancel := context.WithTimeout(ctx, s.interval/2)
		err := check(checkCtx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}

// Start probes immediately and then on every tick until Stop.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.Probe(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Probe(ctx)
			}
		}
	}()
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.health.Shutdown()
	s.server.GracefulStop()
}
