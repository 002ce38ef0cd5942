// Package maintenance keeps the event queue healthy: it recovers stuck
// items, watches the error rate and purges old completed items.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/queue"
	"github.com/groblegark/arbiter/internal/store"
)

const (
	DefaultInterval = 10 * time.Minute
	StuckThreshold  = 5 * time.Minute
	PurgeEvery      = 6 * time.Hour
	PurgeAfterDays  = 7

	// ErrorRateWarn is the per-event error count in the last hour above
	// which a warning is logged.
	ErrorRateWarn = 5

	// Health thresholds.
	MaxFailed        = 100
	MaxPending       = 1000
	MaxErrorsPerHour = 50

	errorRateWindow = time.Hour
)

// Runner performs periodic queue maintenance.
type Runner struct {
	store  store.Store
	queue  *queue.Queue
	logger *slog.Logger
	now    func() time.Time

	lastPurge time.Time
}

// New creates a runner.
func New(s store.Store, q *queue.Queue, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: s, queue: q, logger: logger, now: time.Now}
}

// Report is what one maintenance pass did.
type Report struct {
	Reset    int64                 `json:"reset"`
	Purged   int64                 `json:"purged"`
	PurgeRan bool                  `json:"purge_ran"`
	Noisy    []*model.ErrorSummary `json:"noisy,omitempty"`
}

// Tick runs one pass. It is meant to be driven by loop.Loop.
func (r *Runner) Tick(ctx context.Context) error {
	_, err := r.Run(ctx)
	return err
}

// Run resets stuck items, logs event names with a high error rate and,
// at most every PurgeEvery, purges completed items. Every step runs even
// when an earlier one fails.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	var (
		rep  Report
		errs []error
	)

	n, err := r.queue.ResetStuck(ctx, StuckThreshold)
	if err != nil {
		errs = append(errs, fmt.Errorf("reset stuck: %w", err))
	} else {
		rep.Reset = n
		if n > 0 {
			r.logger.Warn("reset stuck queue items", "count", n)
		}
	}

	sums, err := r.store.SummarizeEventErrors(ctx, r.now().Add(-errorRateWindow))
	if err != nil {
		errs = append(errs, fmt.Errorf("summarize errors: %w", err))
	}
	for _, s := range sums {
		if s.Count > ErrorRateWarn {
			r.logger.Warn("high event error rate", "event", s.EventName, "count", s.Count, "last_seen", s.LastSeen)
			rep.Noisy = append(rep.Noisy, s)
		}
	}

	if now := r.now(); r.lastPurge.IsZero() || now.Sub(r.lastPurge) >= PurgeEvery {
		rep.PurgeRan = true
		n, err := r.queue.PurgeCompleted(ctx, PurgeAfterDays)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge completed: %w", err))
		} else {
			r.lastPurge = now
			rep.Purged = n
			if n > 0 {
				r.logger.Info("purged completed queue items", "count", n)
			}
		}
	}

	return &rep, errors.Join(errs...)
}

// Health combines queue stats and the recent error count.
type Health struct {
	Healthy        bool              `json:"healthy"`
	Queue          *model.QueueStats `json:"queue"`
	ErrorsLastHour int               `json:"errors_last_hour"`
	Problems       []string          `json:"problems,omitempty"`
}

// Health reports the ingestion pipeline unhealthy when too many items
// failed, too many are waiting, or too many errors were recorded in the
// last hour.
func (r *Runner) Health(ctx context.Context) (*Health, error) {
	stats, err := r.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	sums, err := r.store.SummarizeEventErrors(ctx, r.now().Add(-errorRateWindow))
	if err != nil {
		return nil, fmt.Errorf("summarize errors: %w", err)
	}

	h := &Health{Queue: stats}
	for _, s := range sums {
		h.ErrorsLastHour += s.Count
	}
	if stats.Failed > MaxFailed {
		h.Problems = append(h.Problems, fmt.Sprintf("%d failed queue items", stats.Failed))
	}
	if stats.Pending > MaxPending {
		h.Problems = append(h.Problems, fmt.Sprintf("%d pending queue items", stats.Pending))
	}
	if h.ErrorsLastHour > MaxErrorsPerHour {
		h.Problems = append(h.Problems, fmt.Sprintf("%d event errors in the last hour", h.ErrorsLastHour))
	}
	h.Healthy = len(h.Problems) == 0
	return h, nil
}
