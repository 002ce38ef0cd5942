package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// HealthClient queries the standard gRPC health service of an arbiter
// server.
type HealthClient struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
	token  string
}

// NewHealthClient connects to the given gRPC address. The token, when set,
// is sent as a Bearer authorization header.
func NewHealthClient(addr, token string) (*HealthClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &HealthClient{conn: conn, client: healthpb.NewHealthClient(conn), token: token}, nil
}

func (c *HealthClient) Close() error {
	return c.conn.Close()
}

func (c *HealthClient) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

// Check returns the serving status of service. An empty service asks for
// the server as a whole.
func (c *HealthClient) Check(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	resp, err := c.client.Check(c.outgoing(ctx), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	return resp, nil
}

// Watch streams serving status changes of service to fn until ctx ends or
// the stream fails.
func (c *HealthClient) Watch(ctx context.Context, service string, fn func(*healthpb.HealthCheckResponse)) error {
	stream, err := c.client.Watch(c.outgoing(ctx), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health watch: %w", err)
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("health watch: %w", err)
		}
		fn(resp)
	}
}
