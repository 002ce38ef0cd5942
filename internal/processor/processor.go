// Package processor applies queued contract events to domain state exactly
// once.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/arbiter/internal/events"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/queue"
	"github.com/groblegark/arbiter/internal/store"
)

// ErrSessionNotFound is returned when an event refers to a session that
// has not been created yet. The item is retried with backoff.
var ErrSessionNotFound = errors.New("session not found")

// Invalidator drops cached state for a session after its evaluations change.
type Invalidator interface {
	Invalidate(sessionID string)
}

// Processor is the queue.Handler that applies chain events.
type Processor struct {
	store  store.Store
	queue  *queue.Queue
	cache  Invalidator
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

var _ queue.Handler = (*Processor)(nil)

// New creates a processor. cache and pub may be nil.
func New(s store.Store, q *queue.Queue, cache Invalidator, pub events.Publisher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: s, queue: q, cache: cache, pub: pub, logger: logger, now: time.Now}
}

// Result describes what applying one log did.
type Result struct {
	// Duplicate is set when the log had already been applied.
	Duplicate bool
	// Skipped is set when the event was recorded but not applied because
	// the session state no longer allowed it.
	Skipped bool

	notes       []note
	invalidated string
}

type note struct {
	topic string
	event any
}

// Handle decodes and applies a claimed queue item, then marks it completed.
// On failure it records an EventError, marks the item failed and returns
// the cause.
func (p *Processor) Handle(ctx context.Context, item *model.EventQueueItem) error {
	l, err := model.DecodeChainLog(item.Payload)
	if err != nil {
		return p.fail(ctx, item, &model.ChainLog{
			ContractAddress: item.ContractAddress,
			EventName:       model.EventName(item.EventName),
		}, err)
	}
	ev, err := model.DecodeEvent(l)
	if err != nil {
		return p.fail(ctx, item, l, err)
	}

	res, err := p.Apply(ctx, l, ev)
	if err != nil {
		return p.fail(ctx, item, l, err)
	}
	if err := p.queue.MarkCompleted(ctx, item.ID); err != nil {
		return err
	}
	if res.Duplicate {
		p.logger.Debug("event already processed", "tx", l.TransactionHash, "log_index", l.LogIndex)
	}
	return nil
}

func (p *Processor) fail(ctx context.Context, item *model.EventQueueItem, l *model.ChainLog, cause error) error {
	rec := &model.EventError{
		ContractAddress: model.NormalizeAddress(l.ContractAddress),
		EventName:       string(l.EventName),
		TransactionHash: l.TransactionHash,
		BlockNumber:     l.BlockNumber,
		LogIndex:        l.LogIndex,
		ErrorMessage:    cause.Error(),
	}
	if err := p.store.RecordEventError(ctx, rec); err != nil {
		p.logger.Error("record event error failed", "id", item.ID, "err", err)
	}
	updated, err := p.queue.MarkFailed(ctx, item.ID, cause)
	if err != nil {
		p.logger.Error("mark failed", "id", item.ID, "err", err)
	} else if updated.Status == model.QueueFailed {
		p.logger.Error("queue item parked after max retries",
			"id", item.ID, "event", item.EventName, "retries", updated.RetryCount)
	}
	return cause
}

// Apply runs the handler for ev and records the log entry in one
// transaction. A log that was already applied is a successful no-op.
func (p *Processor) Apply(ctx context.Context, l *model.ChainLog, ev model.ChainEvent) (*Result, error) {
	res := &Result{}
	err := p.store.RunInTransaction(ctx, func(tx store.Store) error {
		done, err := tx.HasEventLog(ctx, l.TransactionHash, l.LogIndex)
		if err != nil {
			return err
		}
		if done {
			res.Duplicate = true
			return nil
		}
		if err := p.dispatch(ctx, tx, l, ev, res); err != nil {
			return err
		}
		return tx.RecordEventLog(ctx, &model.EventLogEntry{
			ContractAddress: model.NormalizeAddress(l.ContractAddress),
			EventName:       string(l.EventName),
			TransactionHash: l.TransactionHash,
			BlockNumber:     l.BlockNumber,
			LogIndex:        l.LogIndex,
		})
	})
	if errors.Is(err, store.ErrDuplicate) && !res.Duplicate {
		// Another worker recorded the same log between our check and insert.
		return &Result{Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("apply %s %s:%d: %w", l.EventName, l.TransactionHash, l.LogIndex, err)
	}

	if res.invalidated != "" && p.cache != nil {
		p.cache.Invalidate(res.invalidated)
	}
	for _, n := range res.notes {
		events.Emit(ctx, p.pub, n.topic, n.event)
	}
	return res, nil
}

func (p *Processor) dispatch(ctx context.Context, tx store.Store, l *model.ChainLog, ev model.ChainEvent, res *Result) error {
	contract := model.NormalizeAddress(l.ContractAddress)
	switch e := ev.(type) {
	case model.SessionCreated:
		return p.sessionCreated(ctx, tx, contract, e, res)
	case model.ChallengerJoined:
		return p.challengerJoined(ctx, tx, contract, e, res)
	case model.VotingStarted:
		return p.votingStarted(ctx, tx, contract, e, res)
	case model.EvaluationSubmitted:
		return p.evaluationSubmitted(ctx, tx, contract, e, res)
	case model.ResultFinalized:
		return p.resultFinalized(ctx, tx, contract, e, res)
	case model.SessionCancelledEvent:
		return p.sessionCancelled(ctx, tx, contract, e, res)
	case model.AchievementMinted:
		return p.achievementMinted(ctx, tx, l, e)
	case model.CredibilityUpdated:
		return p.credibilityUpdated(ctx, tx, l, e)
	case model.WagerDeposited:
		return p.wagerDeposited(ctx, tx, contract, e)
	default:
		return fmt.Errorf("no handler for event %s", ev.Name())
	}
}
