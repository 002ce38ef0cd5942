// Package period manages the voting window of a session: opening it,
// extending it and finalizing sessions whose window has closed.
package period

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/arbiter/internal/events"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store"
)

const (
	DefaultDuration  = 24 * time.Hour
	MinDuration      = 12 * time.Hour
	MaxDuration      = 72 * time.Hour
	DefaultExtension = 12 * time.Hour
	MaxExtensions    = 2

	// NearingDeadline flags windows closing within this long.
	NearingDeadline = time.Hour

	// DefaultSweepInterval is how often expired windows are finalized.
	DefaultSweepInterval = 5 * time.Minute
)

// MetaExtensionCount is the session metadata key counting extensions.
const MetaExtensionCount = "extensionCount"

var (
	ErrInvalidDuration = errors.New("voting duration must be between 12 and 72 hours")
	ErrNotActive       = errors.New("session is not active")
	ErrNotVoting       = errors.New("session is not in voting")
	ErrExpired         = errors.New("voting period has expired")
	ErrMaxExtensions   = errors.New("maximum extensions reached")
)

// Finalizer settles a session whose window has closed.
type Finalizer interface {
	FinalizeSession(ctx context.Context, sessionID string) (*model.Outcome, error)
}

// Period describes a session's voting window.
type Period struct {
	SessionID       string    `json:"session_id"`
	VotingStartTime time.Time `json:"voting_start_time"`
	VotingEndTime   time.Time `json:"voting_end_time"`
	DurationSecs    float64   `json:"duration_secs"`
	RemainingSecs   float64   `json:"remaining_secs"`
	IsActive        bool      `json:"is_active"`
	IsExpired       bool      `json:"is_expired"`
	CanExtend       bool      `json:"can_extend"`
	ExtensionCount  int       `json:"extension_count"`
	NearingDeadline bool      `json:"nearing_deadline"`
}

// Manager opens, extends and sweeps voting windows.
type Manager struct {
	store     store.Store
	finalizer Finalizer
	pub       events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a manager. pub may be nil.
func New(s store.Store, f Finalizer, pub events.Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, finalizer: f, pub: pub, logger: logger, now: time.Now}
}

// Start opens voting on an active session. A zero duration selects
// DefaultDuration; any other must lie within [MinDuration, MaxDuration].
func (m *Manager) Start(ctx context.Context, sessionID string, duration time.Duration) (*Period, error) {
	if duration == 0 {
		duration = DefaultDuration
	}
	if duration < MinDuration || duration > MaxDuration {
		return nil, ErrInvalidDuration
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if sess.Status != model.SessionActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, sessionID, sess.Status)
	}

	now := m.now().UTC()
	end := now.Add(duration)
	sess.Status = model.SessionVoting
	sess.VotingStartTime = &now
	sess.VotingEndTime = &end
	sess.UpdatedAt = now

	ok, err := m.store.UpdateSessionIfStatus(ctx, sess, model.SessionActive)
	if err != nil {
		return nil, fmt.Errorf("start voting: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrNotActive, sessionID)
	}

	events.Emit(ctx, m.pub, events.TopicSessionVotingStarted, events.VotingStarted{Session: sess, VotingEndTime: end})
	return m.describe(sess), nil
}

// Extend pushes the end of an open window back. A zero extra selects
// DefaultExtension. A window can be extended MaxExtensions times and not
// after it has expired.
func (m *Manager) Extend(ctx context.Context, sessionID string, extra time.Duration) (*Period, error) {
	if extra == 0 {
		extra = DefaultExtension
	}
	if extra < 0 {
		return nil, fmt.Errorf("extension must be positive, got %s", extra)
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if sess.Status != model.SessionVoting || sess.VotingEndTime == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotVoting, sessionID, sess.Status)
	}

	now := m.now().UTC()
	if now.After(*sess.VotingEndTime) {
		return nil, ErrExpired
	}
	count := extensionCount(sess)
	if count >= MaxExtensions {
		return nil, ErrMaxExtensions
	}

	end := sess.VotingEndTime.Add(extra)
	sess.VotingEndTime = &end
	sess.UpdatedAt = now
	sess.Metadata, err = sess.MergeMetadata(map[string]any{MetaExtensionCount: count + 1})
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	ok, err := m.store.UpdateSessionIfStatus(ctx, sess, model.SessionVoting)
	if err != nil {
		return nil, fmt.Errorf("extend voting: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrNotVoting, sessionID)
	}
	return m.describe(sess), nil
}

// Status describes a session's window. Sessions that never opened voting
// return ErrNotVoting.
func (m *Manager) Status(ctx context.Context, sessionID string) (*Period, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if sess.VotingEndTime == nil {
		return nil, fmt.Errorf("%w: %s has no voting window", ErrNotVoting, sessionID)
	}
	return m.describe(sess), nil
}

// Sweep finalizes every voting session whose window has closed. A failure
// on one session is logged and does not stop the others. It returns the
// number finalized.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpiredVotingSessions(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	var finalized, failed int
	for _, sess := range expired {
		if err := ctx.Err(); err != nil {
			return finalized, err
		}
		if _, err := m.finalizer.FinalizeSession(ctx, sess.ID); err != nil {
			failed++
			m.logger.Error("finalize session failed", "session", sess.ID, "err", err)
			continue
		}
		finalized++
	}
	if finalized > 0 || failed > 0 {
		m.logger.Info("voting sweep finished", "finalized", finalized, "failed", failed)
	}
	return finalized, nil
}

// Tick runs one sweep. It has the signature of a loop.Func.
func (m *Manager) Tick(ctx context.Context) error {
	_, err := m.Sweep(ctx)
	return err
}

func (m *Manager) describe(sess *model.Session) *Period {
	now := m.now()
	start, end := sess.VotingWindow()
	p := &Period{
		SessionID:       sess.ID,
		VotingStartTime: start,
		VotingEndTime:   end,
		DurationSecs:    end.Sub(start).Seconds(),
		IsActive:        sess.Status == model.SessionVoting,
		IsExpired:       now.After(end),
		ExtensionCount:  extensionCount(sess),
	}
	if remaining := end.Sub(now); remaining > 0 {
		p.RemainingSecs = remaining.Seconds()
		p.NearingDeadline = p.IsActive && remaining < NearingDeadline
	}
	p.CanExtend = p.IsActive && !p.IsExpired && p.ExtensionCount < MaxExtensions
	return p
}

func extensionCount(sess *model.Session) int {
	switch v := sess.MetadataMap()[MetaExtensionCount].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
