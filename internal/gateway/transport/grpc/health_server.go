package grpctransport

import (
	"context"
	"errors"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"admissiongate/internal/gateway/core"
)

// ServiceName is the health service name the gateway answers for.
const ServiceName = "admissiongate.gateway"

// HealthServer exposes the gateway's readiness over the standard gRPC
// health protocol.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	addr  string
	ready func() bool
	mu    sync.Mutex
	srv   *grpc.Server
}

// NewHealthServer constructs a server bound to an address.
func NewHealthServer(addr string, ready func() bool) *HealthServer {
	if addr == "" {
		addr = ":9090"
	}
	if ready == nil {
		ready = func() bool { return false }
	}
	return &HealthServer{addr: addr, ready: ready}
}

// Check reports the current serving status.
func (s *HealthServer) Check(ctx context.Context, in *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if service := in.GetService(); service != "" && service != ServiceName {
		return nil, grpcError(core.Wrap(core.CodeNotFound, "unknown service "+service, nil))
	}
	if s.ready() {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
}

// Watch is not supported.
func (s *HealthServer) Watch(in *healthpb.HealthCheckRequest, srv healthpb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "Watch is not implemented")
}

// Start begins serving until the listener closes.
func (s *HealthServer) Start() error {
	if s == nil {
		return errors.New("health server is nil")
	}
	s.mu.Lock()
	if s.srv == nil {
		s.srv = grpc.NewServer()
		healthpb.RegisterHealthServer(s.srv, s)
	}
	srv := s.srv
	s.mu.Unlock()

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return srv.Serve(listener)
}

// Shutdown stops the server gracefully.
func (s *HealthServer) Shutdown() {
	if s == nil {
		return
	}
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
}
