package server

import (
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "arbiter.v1.Arbiter"

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the health service and reflection. Health status is driven by
// UpdateHealth.
func NewGRPCServer(s *Server, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamLoggingInterceptor,
			StreamAuthInterceptor(authToken),
		),
	)

	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)

	return srv
}
