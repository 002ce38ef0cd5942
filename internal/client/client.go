// Package client provides the interface the arb CLI uses to talk to an
// arbiter server and an HTTP/JSON implementation of it.
package client

import (
	"context"
	"time"

	"github.com/groblegark/arbiter/internal/evaluation"
	"github.com/groblegark/arbiter/internal/maintenance"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/outcome"
	"github.com/groblegark/arbiter/internal/period"
	"github.com/groblegark/arbiter/internal/server"
	"github.com/groblegark/arbiter/internal/watcher"
)

// Client is the interface that all arb CLI commands use to communicate with
// the arbiter server. It is implemented by HTTPClient.
type Client interface {
	// Evaluations
	SubmitEvaluation(ctx context.Context, sub evaluation.Submission) (*evaluation.Submitted, error)
	GetEvaluation(ctx context.Context, id string) (*model.Evaluation, error)
	ListSessionEvaluations(ctx context.Context, sessionID string) ([]*model.Evaluation, error)
	ListEvaluatorEvaluations(ctx context.Context, address string, limit int) (*evaluation.History, error)

	// Sessions
	Assessment(ctx context.Context, sessionID string) (*model.Assessment, error)
	Outcome(ctx context.Context, sessionID string) (*outcome.Summary, error)
	Finalize(ctx context.Context, sessionID string) (*server.FinalizeResult, error)
	StartVoting(ctx context.Context, sessionID string, d time.Duration) (*period.Period, error)
	ExtendVoting(ctx context.Context, sessionID string, d time.Duration) (*period.Period, error)
	VotingStatus(ctx context.Context, sessionID string) (*period.Period, error)

	// Queue
	QueueStats(ctx context.Context) (*model.QueueStats, error)
	FailedEvents(ctx context.Context, limit int) ([]*model.EventQueueItem, error)
	RetryEvent(ctx context.Context, id string) error
	PurgeCompleted(ctx context.Context, days int) (int64, error)

	// Watcher
	WatcherStatus(ctx context.Context) ([]watcher.Status, error)
	WatcherHealth(ctx context.Context) (*watcher.Health, error)
	Watch(ctx context.Context, contract string, events []string) error
	Unwatch(ctx context.Context, contract string) (int, error)
	Replay(ctx context.Context, contract string, fromBlock *uint64) (int, error)
	Checkpoints(ctx context.Context) ([]*model.EventCheckpoint, error)
	Checkpoint(ctx context.Context, contract string) (*model.EventCheckpoint, error)

	// Event ledger
	EventLogs(ctx context.Context, f model.EventLogFilter) ([]*model.EventLogEntry, error)
	EventErrors(ctx context.Context, f model.EventLogFilter) ([]*model.EventError, error)
	ErrorSummary(ctx context.Context, hours int) ([]*model.ErrorSummary, error)
	ResolveError(ctx context.Context, id int64) error
	EventsHealth(ctx context.Context) (*maintenance.Health, error)

	// Health
	Health(ctx context.Context) (*server.Status, error)

	// Lifecycle
	Close() error
}

var _ Client = (*HTTPClient)(nil)
