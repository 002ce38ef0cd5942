// Package loop runs a function periodically in the background.
package loop

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Func is one iteration of a loop. An error is logged and the loop goes on.
type Func func(ctx context.Context) error

// Loop calls a Func once at start and then on every tick until stopped.
type Loop struct {
	name     string
	interval time.Duration
	fn       Func
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a loop that runs fn every interval. name is used in logs.
func New(name string, interval time.Duration, fn Func, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{name: name, interval: interval, fn: fn, logger: logger}
}

// Start begins the loop. It runs fn immediately, then on each tick.
// Calling Start on a running loop does nothing.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx)
	}()
}

// Stop cancels the loop and waits for the current iteration (if any) to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

func (l *Loop) run(ctx context.Context) {
	l.once(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.once(ctx)
		}
	}
}

func (l *Loop) once(ctx context.Context) {
	if err := l.fn(ctx); err != nil && ctx.Err() == nil {
		l.logger.Error(l.name+" failed", "err", err)
	}
}
