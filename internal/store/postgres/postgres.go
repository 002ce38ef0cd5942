// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an existing connection without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	return queryCreateSession(ctx, s.db, sess)
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return queryGetSession(ctx, s.db, id)
}

func (s *PostgresStore) GetSessionByAddress(ctx context.Context, address string) (*model.Session, error) {
	return queryGetSessionByAddress(ctx, s.db, address)
}

func (s *PostgresStore) UpdateSessionIfStatus(ctx context.Context, sess *model.Session, expected model.SessionStatus) (bool, error) {
	return queryUpdateSessionIfStatus(ctx, s.db, sess, expected)
}

func (s *PostgresStore) ListExpiredVotingSessions(ctx context.Context, now time.Time) ([]*model.Session, error) {
	return queryListExpiredVotingSessions(ctx, s.db, now)
}

func (s *PostgresStore) ListFinalizedSessions(ctx context.Context, since time.Time) ([]*model.Session, error) {
	return queryListFinalizedSessions(ctx, s.db, since)
}

func (s *PostgresStore) AddParticipant(ctx context.Context, sessionID, address string, role model.ParticipantRole) error {
	return queryAddParticipant(ctx, s.db, sessionID, address, role)
}

func (s *PostgresStore) CreateEvaluation(ctx context.Context, e *model.Evaluation) error {
	return queryCreateEvaluation(ctx, s.db, e)
}

func (s *PostgresStore) GetEvaluation(ctx context.Context, id string) (*model.Evaluation, error) {
	return queryGetEvaluation(ctx, s.db, id)
}

func (s *PostgresStore) HasEvaluation(ctx context.Context, sessionID, evaluator string) (bool, error) {
	return queryHasEvaluation(ctx, s.db, sessionID, evaluator)
}

func (s *PostgresStore) ListEvaluations(ctx context.Context, sessionID string) ([]*model.Evaluation, error) {
	return queryListEvaluations(ctx, s.db, sessionID)
}

func (s *PostgresStore) ListEvaluationsByEvaluator(ctx context.Context, evaluator string, limit int) ([]*model.Evaluation, error) {
	return queryListEvaluationsByEvaluator(ctx, s.db, evaluator, limit)
}

func (s *PostgresStore) CountEvaluations(ctx context.Context, sessionID string) (int, error) {
	return queryCountEvaluations(ctx, s.db, sessionID)
}

func (s *PostgresStore) CountEvaluationsSince(ctx context.Context, evaluator string, since time.Time) (int, error) {
	return queryCountEvaluationsSince(ctx, s.db, evaluator, since)
}

func (s *PostgresStore) GetEvaluatorProfile(ctx context.Context, evaluator string) (*model.EvaluatorProfile, error) {
	return queryGetEvaluatorProfile(ctx, s.db, evaluator)
}

func (s *PostgresStore) AddCredibilityEvent(ctx context.Context, e *model.CredibilityEvent) error {
	return queryAddCredibilityEvent(ctx, s.db, e)
}

func (s *PostgresStore) UpsertAchievement(ctx context.Context, a *model.Achievement) error {
	return queryUpsertAchievement(ctx, s.db, a)
}

func (s *PostgresStore) EnqueueEvent(ctx context.Context, item *model.EventQueueItem) error {
	return queryEnqueueEvent(ctx, s.db, item)
}

func (s *PostgresStore) ClaimNextEvent(ctx context.Context) (*model.EventQueueItem, error) {
	return queryClaimNextEvent(ctx, s.db)
}

func (s *PostgresStore) CompleteEvent(ctx context.Context, id string) error {
	return queryCompleteEvent(ctx, s.db, id)
}

func (s *PostgresStore) FailEvent(ctx context.Context, id, message string, maxBackoff time.Duration) (*model.EventQueueItem, error) {
	return queryFailEvent(ctx, s.db, id, message, maxBackoff)
}

func (s *PostgresStore) GetQueueItem(ctx context.Context, id string) (*model.EventQueueItem, error) {
	return queryGetQueueItem(ctx, s.db, id)
}

func (s *PostgresStore) ListFailedEvents(ctx context.Context, limit int) ([]*model.EventQueueItem, error) {
	return queryListFailedEvents(ctx, s.db, limit)
}

func (s *PostgresStore) RetryFailedEvent(ctx context.Context, id string) error {
	return queryRetryFailedEvent(ctx, s.db, id)
}

func (s *PostgresStore) PurgeCompletedEvents(ctx context.Context, before time.Time) (int64, error) {
	return queryPurgeCompletedEvents(ctx, s.db, before)
}

func (s *PostgresStore) ResetStuckEvents(ctx context.Context, before time.Time) (int64, error) {
	return queryResetStuckEvents(ctx, s.db, before)
}

func (s *PostgresStore) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	return queryQueueStats(ctx, s.db)
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, contract string) (*model.EventCheckpoint, error) {
	return queryGetCheckpoint(ctx, s.db, contract)
}

func (s *PostgresStore) CreateCheckpoint(ctx context.Context, contract string, block uint64) error {
	return queryCreateCheckpoint(ctx, s.db, contract, block)
}

func (s *PostgresStore) AdvanceCheckpoint(ctx context.Context, contract string, block uint64) (bool, error) {
	return queryAdvanceCheckpoint(ctx, s.db, contract, block)
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context) ([]*model.EventCheckpoint, error) {
	return queryListCheckpoints(ctx, s.db)
}

func (s *PostgresStore) HasEventLog(ctx context.Context, txHash string, logIndex int) (bool, error) {
	return queryHasEventLog(ctx, s.db, txHash, logIndex)
}

func (s *PostgresStore) RecordEventLog(ctx context.Context, entry *model.EventLogEntry) error {
	return queryRecordEventLog(ctx, s.db, entry)
}

func (s *PostgresStore) RecordEventError(ctx context.Context, e *model.EventError) error {
	return queryRecordEventError(ctx, s.db, e)
}

func (s *PostgresStore) ListEventLogs(ctx context.Context, filter model.EventLogFilter) ([]*model.EventLogEntry, error) {
	return queryListEventLogs(ctx, s.db, filter)
}

func (s *PostgresStore) ListEventErrors(ctx context.Context, filter model.EventLogFilter) ([]*model.EventError, error) {
	return queryListEventErrors(ctx, s.db, filter)
}

func (s *PostgresStore) ResolveEventError(ctx context.Context, id int64) error {
	return queryResolveEventError(ctx, s.db, id)
}

func (s *PostgresStore) SummarizeEventErrors(ctx context.Context, since time.Time) ([]*model.ErrorSummary, error) {
	return querySummarizeEventErrors(ctx, s.db, since)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateSession(ctx context.Context, sess *model.Session) error {
	return queryCreateSession(ctx, s.tx, sess)
}

func (s *txStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return queryGetSession(ctx, s.tx, id)
}

func (s *txStore) GetSessionByAddress(ctx context.Context, address string) (*model.Session, error) {
	return queryGetSessionByAddress(ctx, s.tx, address)
}

func (s *txStore) UpdateSessionIfStatus(ctx context.Context, sess *model.Session, expected model.SessionStatus) (bool, error) {
	return queryUpdateSessionIfStatus(ctx, s.tx, sess, expected)
}

func (s *txStore) ListExpiredVotingSessions(ctx context.Context, now time.Time) ([]*model.Session, error) {
	return queryListExpiredVotingSessions(ctx, s.tx, now)
}

func (s *txStore) ListFinalizedSessions(ctx context.Context, since time.Time) ([]*model.Session, error) {
	return queryListFinalizedSessions(ctx, s.tx, since)
}

func (s *txStore) AddParticipant(ctx context.Context, sessionID, address string, role model.ParticipantRole) error {
	return queryAddParticipant(ctx, s.tx, sessionID, address, role)
}

func (s *txStore) CreateEvaluation(ctx context.Context, e *model.Evaluation) error {
	return queryCreateEvaluation(ctx, s.tx, e)
}

func (s *txStore) GetEvaluation(ctx context.Context, id string) (*model.Evaluation, error) {
	return queryGetEvaluation(ctx, s.tx, id)
}

func (s *txStore) HasEvaluation(ctx context.Context, sessionID, evaluator string) (bool, error) {
	return queryHasEvaluation(ctx, s.tx, sessionID, evaluator)
}

func (s *txStore) ListEvaluations(ctx context.Context, sessionID string) ([]*model.Evaluation, error) {
	return queryListEvaluations(ctx, s.tx, sessionID)
}

func (s *txStore) ListEvaluationsByEvaluator(ctx context.Context, evaluator string, limit int) ([]*model.Evaluation, error) {
	return queryListEvaluationsByEvaluator(ctx, s.tx, evaluator, limit)
}

func (s *txStore) CountEvaluations(ctx context.Context, sessionID string) (int, error) {
	return queryCountEvaluations(ctx, s.tx, sessionID)
}

func (s *txStore) CountEvaluationsSince(ctx context.Context, evaluator string, since time.Time) (int, error) {
	return queryCountEvaluationsSince(ctx, s.tx, evaluator, since)
}

func (s *txStore) GetEvaluatorProfile(ctx context.Context, evaluator string) (*model.EvaluatorProfile, error) {
	return queryGetEvaluatorProfile(ctx, s.tx, evaluator)
}

func (s *txStore) AddCredibilityEvent(ctx context.Context, e *model.CredibilityEvent) error {
	return queryAddCredibilityEvent(ctx, s.tx, e)
}

func (s *txStore) UpsertAchievement(ctx context.Context, a *model.Achievement) error {
	return queryUpsertAchievement(ctx, s.tx, a)
}

func (s *txStore) EnqueueEvent(ctx context.Context, item *model.EventQueueItem) error {
	return queryEnqueueEvent(ctx, s.tx, item)
}

func (s *txStore) ClaimNextEvent(ctx context.Context) (*model.EventQueueItem, error) {
	return queryClaimNextEvent(ctx, s.tx)
}

func (s *txStore) CompleteEvent(ctx context.Context, id string) error {
	return queryCompleteEvent(ctx, s.tx, id)
}

func (s *txStore) FailEvent(ctx context.Context, id, message string, maxBackoff time.Duration) (*model.EventQueueItem, error) {
	return queryFailEvent(ctx, s.tx, id, message, maxBackoff)
}

func (s *txStore) GetQueueItem(ctx context.Context, id string) (*model.EventQueueItem, error) {
	return queryGetQueueItem(ctx, s.tx, id)
}

func (s *txStore) ListFailedEvents(ctx context.Context, limit int) ([]*model.EventQueueItem, error) {
	return queryListFailedEvents(ctx, s.tx, limit)
}

func (s *txStore) RetryFailedEvent(ctx context.Context, id string) error {
	return queryRetryFailedEvent(ctx, s.tx, id)
}

func (s *txStore) PurgeCompletedEvents(ctx context.Context, before time.Time) (int64, error) {
	return queryPurgeCompletedEvents(ctx, s.tx, before)
}

func (s *txStore) ResetStuckEvents(ctx context.Context, before time.Time) (int64, error) {
	return queryResetStuckEvents(ctx, s.tx, before)
}

func (s *txStore) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	return queryQueueStats(ctx, s.tx)
}

func (s *txStore) GetCheckpoint(ctx context.Context, contract string) (*model.EventCheckpoint, error) {
	return queryGetCheckpoint(ctx, s.tx, contract)
}

func (s *txStore) CreateCheckpoint(ctx context.Context, contract string, block uint64) error {
	return queryCreateCheckpoint(ctx, s.tx, contract, block)
}

func (s *txStore) AdvanceCheckpoint(ctx context.Context, contract string, block uint64) (bool, error) {
	return queryAdvanceCheckpoint(ctx, s.tx, contract, block)
}

func (s *txStore) ListCheckpoints(ctx context.Context) ([]*model.EventCheckpoint, error) {
	return queryListCheckpoints(ctx, s.tx)
}

func (s *txStore) HasEventLog(ctx context.Context, txHash string, logIndex int) (bool, error) {
	return queryHasEventLog(ctx, s.tx, txHash, logIndex)
}

func (s *txStore) RecordEventLog(ctx context.Context, entry *model.EventLogEntry) error {
	return queryRecordEventLog(ctx, s.tx, entry)
}

func (s *txStore) RecordEventError(ctx context.Context, e *model.EventError) error {
	return queryRecordEventError(ctx, s.tx, e)
}

func (s *txStore) ListEventLogs(ctx context.Context, filter model.EventLogFilter) ([]*model.EventLogEntry, error) {
	return queryListEventLogs(ctx, s.tx, filter)
}

func (s *txStore) ListEventErrors(ctx context.Context, filter model.EventLogFilter) ([]*model.EventError, error) {
	return queryListEventErrors(ctx, s.tx, filter)
}

func (s *txStore) ResolveEventError(ctx context.Context, id int64) error {
	return queryResolveEventError(ctx, s.tx, id)
}

func (s *txStore) SummarizeEventErrors(ctx context.Context, since time.Time) ([]*model.ErrorSummary, error) {
	return querySummarizeEventErrors(ctx, s.tx, since)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
