// Package queue is the durable event queue between the chain watcher and
// the event processor.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/arbiter/internal/idgen"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store"
)

const (
	// MaxBackoff caps the delay before a failed item is retried.
	MaxBackoff = 60 * time.Minute
	// DefaultStuckThreshold is how long an item may stay processing before
	// it is presumed abandoned.
	DefaultStuckThreshold = 5 * time.Minute
)

// Queue wraps the store's queue operations.
type Queue struct {
	store store.Store
}

// New creates a queue backed by s.
func New(s store.Store) *Queue {
	return &Queue{store: s}
}

// Enqueue adds an item that is immediately eligible for processing.
func (q *Queue) Enqueue(ctx context.Context, contract, eventName string, payload any, priority int) (*model.EventQueueItem, error) {
	return q.EnqueueAt(ctx, contract, eventName, payload, priority, time.Now().UTC())
}

// EnqueueAt adds an item that becomes eligible at scheduledFor.
func (q *Queue) EnqueueAt(ctx context.Context, contract, eventName string, payload any, priority int, scheduledFor time.Time) (*model.EventQueueItem, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	id, err := idgen.QueueItemID()
	if err != nil {
		return nil, err
	}
	item := &model.EventQueueItem{
		ID:              id,
		ContractAddress: model.NormalizeAddress(contract),
		EventName:       eventName,
		Payload:         data,
		Priority:        priority,
		MaxRetries:      model.DefaultMaxRetries,
		ScheduledFor:    scheduledFor,
	}
	if err := q.store.EnqueueEvent(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Dequeue claims the next eligible item, or returns nil when none is due.
func (q *Queue) Dequeue(ctx context.Context) (*model.EventQueueItem, error) {
	return q.store.ClaimNextEvent(ctx)
}

// MarkCompleted records successful processing.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	if err := q.store.CompleteEvent(ctx, id); err != nil {
		return fmt.Errorf("mark completed %s: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt. The item is rescheduled with
// exponential backoff, or parked as failed once its retries run out.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) (*model.EventQueueItem, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	item, err := q.store.FailEvent(ctx, id, msg, MaxBackoff)
	if err != nil {
		return nil, fmt.Errorf("mark failed %s: %w", id, err)
	}
	return item, nil
}

// FailedEvents lists items that exhausted their retries.
func (q *Queue) FailedEvents(ctx context.Context, limit int) ([]*model.EventQueueItem, error) {
	return q.store.ListFailedEvents(ctx, limit)
}

// RetryEvent puts a failed item back in the queue with a fresh retry budget.
func (q *Queue) RetryEvent(ctx context.Context, id string) error {
	if err := q.store.RetryFailedEvent(ctx, id); err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	return nil
}

// PurgeCompleted deletes completed items processed more than olderThanDays ago.
func (q *Queue) PurgeCompleted(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		olderThanDays = 0
	}
	before := time.Now().UTC().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	return q.store.PurgeCompletedEvents(ctx, before)
}

// ResetStuck returns items processing for longer than threshold to pending.
func (q *Queue) ResetStuck(ctx context.Context, threshold time.Duration) (int64, error) {
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	return q.store.ResetStuckEvents(ctx, time.Now().UTC().Add(-threshold))
}

// Stats returns counts per status.
func (q *Queue) Stats(ctx context.Context) (*model.QueueStats, error) {
	return q.store.QueueStats(ctx)
}

// Get returns a single item.
func (q *Queue) Get(ctx context.Context, id string) (*model.EventQueueItem, error) {
	return q.store.GetQueueItem(ctx, id)
}

// Handler processes a claimed item. It owns marking the item completed or
// failed.
type Handler interface {
	Handle(ctx context.Context, item *model.EventQueueItem) error
}

// Worker claims one item per tick and hands it to a Handler.
type Worker struct {
	queue   *Queue
	handler Handler
	logger  *slog.Logger
}

// NewWorker creates a worker. Run it with loop.New(..., w.Tick, ...).
func NewWorker(q *Queue, h Handler, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: q, handler: h, logger: logger}
}

// Tick claims and handles at most one item.
func (w *Worker) Tick(ctx context.Context) error {
	_, err := w.Step(ctx)
	return err
}

// Step is Tick that also reports whether an item was claimed.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	item, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if item == nil {
		return false, nil
	}
	if err := w.handler.Handle(ctx, item); err != nil {
		w.logger.Warn("queue item failed", "id", item.ID, "event", item.EventName, "err", err)
	}
	return true, nil
}
