package store

import (
	"context"
	"errors"
	"time"

	"github.com/groblegark/arbiter/internal/model"
)

// ErrDuplicate is returned when an insert collides with a unique constraint
// (one evaluation per session and evaluator, one session per address).
var ErrDuplicate = errors.New("duplicate record")

// Store defines the persistence interface for sessions, evaluations and the
// event ingestion pipeline. Lookups that find nothing return sql.ErrNoRows.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	GetSessionByAddress(ctx context.Context, address string) (*model.Session, error)
	// UpdateSessionIfStatus writes the mutable session columns only while the
	// stored status still equals expected. It reports whether a row changed.
	UpdateSessionIfStatus(ctx context.Context, s *model.Session, expected model.SessionStatus) (bool, error)
	ListExpiredVotingSessions(ctx context.Context, now time.Time) ([]*model.Session, error)
	ListFinalizedSessions(ctx context.Context, since time.Time) ([]*model.Session, error)
	AddParticipant(ctx context.Context, sessionID, address string, role model.ParticipantRole) error

	// Evaluations
	CreateEvaluation(ctx context.Context, e *model.Evaluation) error
	GetEvaluation(ctx context.Context, id string) (*model.Evaluation, error)
	HasEvaluation(ctx context.Context, sessionID, evaluator string) (bool, error)
	ListEvaluations(ctx context.Context, sessionID string) ([]*model.Evaluation, error)
	ListEvaluationsByEvaluator(ctx context.Context, evaluator string, limit int) ([]*model.Evaluation, error)
	CountEvaluations(ctx context.Context, sessionID string) (int, error)
	CountEvaluationsSince(ctx context.Context, evaluator string, since time.Time) (int, error)
	GetEvaluatorProfile(ctx context.Context, evaluator string) (*model.EvaluatorProfile, error)

	// Credibility ledger and achievements
	AddCredibilityEvent(ctx context.Context, e *model.CredibilityEvent) error
	UpsertAchievement(ctx context.Context, a *model.Achievement) error

	// Event queue
	EnqueueEvent(ctx context.Context, item *model.EventQueueItem) error
	// ClaimNextEvent returns nil, nil when no item is eligible.
	ClaimNextEvent(ctx context.Context) (*model.EventQueueItem, error)
	CompleteEvent(ctx context.Context, id string) error
	FailEvent(ctx context.Context, id, message string, maxBackoff time.Duration) (*model.EventQueueItem, error)
	GetQueueItem(ctx context.Context, id string) (*model.EventQueueItem, error)
	ListFailedEvents(ctx context.Context, limit int) ([]*model.EventQueueItem, error)
	RetryFailedEvent(ctx context.Context, id string) error
	PurgeCompletedEvents(ctx context.Context, before time.Time) (int64, error)
	ResetStuckEvents(ctx context.Context, before time.Time) (int64, error)
	QueueStats(ctx context.Context) (*model.QueueStats, error)

	// Checkpoints
	GetCheckpoint(ctx context.Context, contract string) (*model.EventCheckpoint, error)
	CreateCheckpoint(ctx context.Context, contract string, block uint64) error
	// AdvanceCheckpoint moves the cursor forward; it reports false when the
	// row is missing or block is lower than the stored value.
	AdvanceCheckpoint(ctx context.Context, contract string, block uint64) (bool, error)
	ListCheckpoints(ctx context.Context) ([]*model.EventCheckpoint, error)

	// Event audit
	HasEventLog(ctx context.Context, txHash string, logIndex int) (bool, error)
	RecordEventLog(ctx context.Context, entry *model.EventLogEntry) error
	RecordEventError(ctx context.Context, e *model.EventError) error
	ListEventLogs(ctx context.Context, filter model.EventLogFilter) ([]*model.EventLogEntry, error)
	ListEventErrors(ctx context.Context, filter model.EventLogFilter) ([]*model.EventError, error)
	ResolveEventError(ctx context.Context, id int64) error
	SummarizeEventErrors(ctx context.Context, since time.Time) ([]*model.ErrorSummary, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
