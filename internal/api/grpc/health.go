// Package grpc serves the standard gRPC health service for qgate.
package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the query gateway.
const ServiceName = "qgate.QueryGateway"

// Check reports whether a dependency is able to serve.
type Check func(ctx context.Context) bool

// HealthServer runs a gRPC server exposing grpc.health.v1.Health. The
// overall status ("") and ServiceName follow the registered checks.
type HealthServer struct {
	addr     string
	interval time.Duration

	server *grpc.Server
	health *health.Server

	mu     sync.Mutex
	ln     net.Listener
	checks map[string]Check
	done   chan struct{}
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewHealthServer creates a health server bound to addr. interval is how
// often checks are re-evaluated (default: 5 seconds).
func NewHealthServer(addr string, interval time.Duration, logger *zap.Logger) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		addr:     addr,
		interval: interval,
		server:   srv,
		health:   hs,
		checks:   make(map[string]Check),
		done:     make(chan struct{}),
		logger:   logger.Named("grpc-health"),
	}
}

// AddCheck registers a named dependency check. Add checks before Serve.
func (s *HealthServer) AddCheck(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// Listen binds the configured address.
func (s *HealthServer) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *HealthServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve evaluates the checks periodically and serves until Close.
func (s *HealthServer) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	s.evaluate(ctx)
	s.wg.Add(1)
	go s.watch(ctx)

	s.logger.Info("gRPC health server listening", zap.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *HealthServer) watch(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

// evaluate runs every check and publishes the per-check and overall status.
func (s *HealthServer) evaluate(ctx context.Context) {
	s.mu.Lock()
	checks := make(map[string]Check, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	s.mu.Unlock()

	overall := healthpb.HealthCheckResponse_SERVING
	for name, c := range checks {
		status := healthpb.HealthCheckResponse_SERVING
		if !c(ctx) {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(ServiceName, overall)
}

// Close marks every service NOT_SERVING and stops the server gracefully.
func (s *HealthServer) Close() error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return nil
	default:
		close(s.done)
	}
	s.mu.Unlock()

	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	return nil
}
