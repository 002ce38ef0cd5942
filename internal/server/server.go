package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/groblegark/arbiter/internal/aggregate"
	"github.com/groblegark/arbiter/internal/checkpoint"
	"github.com/groblegark/arbiter/internal/evaluation"
	"github.com/groblegark/arbiter/internal/maintenance"
	"github.com/groblegark/arbiter/internal/outcome"
	"github.com/groblegark/arbiter/internal/period"
	"github.com/groblegark/arbiter/internal/queue"
	"github.com/groblegark/arbiter/internal/store"
	"github.com/groblegark/arbiter/internal/watcher"
)

// Components are the services exposed over HTTP and gRPC. Checkpoints and
// Watcher are nil when ingestion is disabled.
type Components struct {
	Store       store.Store
	Queue       *queue.Queue
	Checkpoints *checkpoint.Store
	Watcher     *watcher.Manager
	Maintenance *maintenance.Runner
	Evaluations *evaluation.Service
	Assessments *aggregate.Aggregator
	Outcomes    *outcome.Calculator
	Periods     *period.Manager
}

// Server is the arbiter API.
type Server struct {
	Components
	health *health.Server
}

// New returns a server over c.
func New(c Components) *Server {
	return &Server{Components: c, health: health.NewServer()}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// Status is the combined health of the ingestion pipeline.
type Status struct {
	Healthy     bool                `json:"healthy"`
	Watcher     *watcher.Health     `json:"watcher,omitempty"`
	Maintenance *maintenance.Health `json:"maintenance,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Check reports unhealthy when any watcher is stale or the queue and error
// log exceed their thresholds.
func (s *Server) Check(ctx context.Context) *Status {
	st := &Status{Healthy: true}
	if s.Watcher != nil {
		h := s.Watcher.Health()
		st.Watcher = &h
		st.Healthy = h.Healthy
	}
	if s.Maintenance != nil {
		h, err := s.Maintenance.Health(ctx)
		if err != nil {
			st.Healthy = false
			st.Error = err.Error()
			return st
		}
		st.Maintenance = h
		st.Healthy = st.Healthy && h.Healthy
	}
	return st
}

// UpdateHealth sets the gRPC health status from Check. It has the
// signature of a loop.Func.
func (s *Server) UpdateHealth(ctx context.Context) error {
	serving := healthpb.HealthCheckResponse_SERVING
	st := s.Check(ctx)
	if !st.Healthy {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
		slog.Warn("service unhealthy", "watcher", st.Watcher, "maintenance", st.Maintenance, "err", st.Error)
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(ServiceName, serving)
	return nil
}

// Shutdown marks every service NOT_SERVING.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var ie inputError
	switch {
	case errors.As(err, &ie), errors.Is(err, period.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, outcome.ErrNotVoting),
		errors.Is(err, period.ErrNotActive),
		errors.Is(err, period.ErrNotVoting),
		errors.Is(err, period.ErrExpired),
		errors.Is(err, period.ErrMaxExtensions),
		errors.Is(err, checkpoint.ErrCheckpointRegression):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
