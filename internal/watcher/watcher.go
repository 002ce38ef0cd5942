// Package watcher polls the ledger for contract notifications and feeds
// them into the event queue.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/groblegark/arbiter/internal/chain"
	"github.com/groblegark/arbiter/internal/checkpoint"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/queue"
)

const (
	// DefaultPollInterval is how often each contract is polled.
	DefaultPollInterval = 12 * time.Second
	// BatchSize is the widest block range fetched in one Logs call.
	BatchSize = 1000
	// staleTicks is how many poll intervals may pass without a successful
	// tick before a watcher is reported unhealthy.
	staleTicks = 3
)

// Manager owns one poller per watched contract.
type Manager struct {
	ledger      chain.Ledger
	checkpoints *checkpoint.Store
	queue       *queue.Queue
	interval    time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	watchers map[string]*watcher
}

type watcher struct {
	contract string
	events   map[model.EventName]bool
	cancel   context.CancelFunc
	done     chan struct{}

	// scan serializes ticks and replays of the same contract.
	scan sync.Mutex

	mu          sync.Mutex
	startedAt   time.Time
	lastTick    time.Time
	lastSuccess time.Time
	lastErr     error
	lastBlock   uint64
	ticks       int
	enqueued    int
}

// Contract is one contract to watch and the events to ingest from it.
// An empty Events list ingests every event.
type Contract struct {
	Address string   `json:"address" toml:"address"`
	Events  []string `json:"events,omitempty" toml:"events"`
}

// Status describes one watcher.
type Status struct {
	Contract  string     `json:"contract"`
	Events    []string   `json:"events,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	LastTick  *time.Time `json:"last_tick,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	LastBlock uint64     `json:"last_block"`
	Ticks     int        `json:"ticks"`
	Enqueued  int        `json:"enqueued"`
}

// Health summarizes every watcher.
type Health struct {
	Healthy  bool     `json:"healthy"`
	Watchers int      `json:"watchers"`
	Stale    []string `json:"stale,omitempty"`
}

// New creates a manager. interval <= 0 uses DefaultPollInterval.
func New(l chain.Ledger, cps *checkpoint.Store, q *queue.Queue, interval time.Duration, logger *slog.Logger) *Manager {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ledger:      l,
		checkpoints: cps,
		queue:       q,
		interval:    interval,
		logger:      logger,
		now:         time.Now,
		watchers:    make(map[string]*watcher),
	}
}

// Initialize starts watching every contract in cs.
func (m *Manager) Initialize(ctx context.Context, cs []Contract) error {
	var errs []error
	for _, c := range cs {
		if err := m.Watch(ctx, c.Address, c.Events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Watch starts a poller for contract. Watching a contract twice is a
// no-op. The poller runs until Unwatch or StopAll; ctx only bounds
// validation.
func (m *Manager) Watch(ctx context.Context, contract string, eventNames []string) error {
	contract = model.NormalizeAddress(contract)
	if contract == "" {
		return errors.New("contract address is required")
	}
	filter := make(map[model.EventName]bool, len(eventNames))
	for _, n := range eventNames {
		name := model.EventName(n)
		if !name.IsKnown() {
			return fmt.Errorf("watch %s: unknown event %q", contract, n)
		}
		filter[name] = true
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watchers[contract]; ok {
		return nil
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		contract:  contract,
		events:    filter,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: m.now(),
	}
	m.watchers[contract] = w

	go func() {
		defer close(w.done)
		chain.WatchBlockNumber(pollCtx, m.ledger, m.interval,
			func(ctx context.Context, head uint64) {
				w.scan.Lock()
				defer w.scan.Unlock()
				n, err := m.tick(ctx, w, head)
				m.record(w, head, n, err)
			},
			func(err error) {
				m.record(w, 0, 0, fmt.Errorf("get block number: %w", err))
			})
	}()

	m.logger.Info("watching contract", "contract", contract, "events", eventNames)
	return nil
}

// Unwatch stops the poller for contract and waits for its current tick.
// It reports whether the contract was watched.
func (m *Manager) Unwatch(contract string) bool {
	contract = model.NormalizeAddress(contract)
	m.mu.Lock()
	w, ok := m.watchers[contract]
	delete(m.watchers, contract)
	m.mu.Unlock()
	if !ok {
		return false
	}
	w.cancel()
	<-w.done
	m.logger.Info("stopped watching contract", "contract", contract)
	return true
}

// UnwatchAll stops every poller and returns how many were stopped.
func (m *Manager) UnwatchAll() int {
	m.mu.Lock()
	ws := m.watchers
	m.watchers = make(map[string]*watcher)
	m.mu.Unlock()

	for _, w := range ws {
		w.cancel()
	}
	for _, w := range ws {
		<-w.done
	}
	return len(ws)
}

// StopAll is UnwatchAll for shutdown.
func (m *Manager) StopAll() {
	if n := m.UnwatchAll(); n > 0 {
		m.logger.Info("watchers stopped", "count", n)
	}
}

// Watched reports whether contract has a running poller.
func (m *Manager) Watched(contract string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[model.NormalizeAddress(contract)]
	return ok
}

func (m *Manager) record(w *watcher, head uint64, enqueued int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := m.now()
	w.lastTick = now
	w.ticks++
	w.lastErr = err
	if err != nil {
		m.logger.Warn("watcher tick failed", "contract", w.contract, "err", err)
		return
	}
	w.lastSuccess = now
	w.enqueued += enqueued
	if head > w.lastBlock {
		w.lastBlock = head
	}
}

// tick ingests (checkpoint, head] and then advances the checkpoint.
// Nothing is advanced unless the whole range was enqueued.
func (m *Manager) tick(ctx context.Context, w *watcher, head uint64) (int, error) {
	cp, err := m.checkpoints.Get(ctx, w.contract)
	if err != nil {
		return 0, err
	}
	if head <= cp {
		return 0, nil
	}
	n, err := m.scanRange(ctx, w.contract, w.events, cp+1, head)
	if err != nil {
		return n, err
	}
	if err := m.checkpoints.Set(ctx, w.contract, head); err != nil {
		return n, fmt.Errorf("advance checkpoint: %w", err)
	}
	return n, nil
}

// scanRange enqueues every matching log in [from, to] in BatchSize blocks.
func (m *Manager) scanRange(ctx context.Context, contract string, filter map[model.EventName]bool, from, to uint64) (int, error) {
	var count int
	for start := from; start <= to; start += BatchSize {
		end := min(start+BatchSize-1, to)
		logs, err := m.ledger.Logs(ctx, contract, start, end)
		if err != nil {
			return count, fmt.Errorf("get logs %d-%d: %w", start, end, err)
		}
		for i := range logs {
			l := &logs[i]
			if len(filter) > 0 && !filter[l.EventName] {
				continue
			}
			if !l.EventName.IsKnown() {
				m.logger.Debug("ignoring unknown event", "contract", contract, "event", l.EventName)
				continue
			}
			if _, err := m.queue.Enqueue(ctx, contract, string(l.EventName), l, l.EventName.Priority()); err != nil {
				return count, fmt.Errorf("enqueue %s at block %d: %w", l.EventName, l.BlockNumber, err)
			}
			count++
		}
	}
	return count, nil
}

// Replay rescans contract from fromBlock (or from its checkpoint when nil)
// to the chain head and enqueues every matching log. The checkpoint is
// moved to head if that is ahead of it. Already-applied logs are skipped
// by the processor.
func (m *Manager) Replay(ctx context.Context, contract string, fromBlock *uint64) (int, error) {
	contract = model.NormalizeAddress(contract)
	var filter map[model.EventName]bool

	m.mu.Lock()
	w := m.watchers[contract]
	m.mu.Unlock()
	if w != nil {
		w.scan.Lock()
		defer w.scan.Unlock()
		filter = w.events
	}

	head, err := m.ledger.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	cp, err := m.checkpoints.Get(ctx, contract)
	if err != nil {
		return 0, err
	}
	from := cp + 1
	if fromBlock != nil {
		from = *fromBlock
	}
	if from > head {
		return 0, nil
	}

	n, err := m.scanRange(ctx, contract, filter, from, head)
	if err != nil {
		return n, err
	}
	if head > cp {
		if err := m.checkpoints.Set(ctx, contract, head); err != nil {
			return n, fmt.Errorf("advance checkpoint: %w", err)
		}
	}
	m.logger.Info("replayed contract", "contract", contract, "from", from, "to", head, "enqueued", n)
	return n, nil
}

// Status returns every watcher sorted by contract.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	ws := make([]*watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Contract < out[j].Contract })
	return out
}

func (w *watcher) status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		Contract:  w.contract,
		StartedAt: w.startedAt,
		LastBlock: w.lastBlock,
		Ticks:     w.ticks,
		Enqueued:  w.enqueued,
	}
	for n := range w.events {
		st.Events = append(st.Events, string(n))
	}
	sort.Strings(st.Events)
	if !w.lastTick.IsZero() {
		t := w.lastTick
		st.LastTick = &t
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}

// Health reports a watcher stale when it has gone three poll intervals
// without a successful tick. A new watcher is measured from its start.
func (m *Manager) Health() Health {
	m.mu.Lock()
	ws := make([]*watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.Unlock()

	h := Health{Healthy: true, Watchers: len(ws)}
	deadline := m.now().Add(-staleTicks * m.interval)
	for _, w := range ws {
		w.mu.Lock()
		last := w.lastSuccess
		if last.IsZero() {
			last = w.startedAt
		}
		w.mu.Unlock()
		if last.Before(deadline) {
			h.Healthy = false
			h.Stale = append(h.Stale, w.contract)
		}
	}
	sort.Strings(h.Stale)
	return h
}
