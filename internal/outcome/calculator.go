package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/groblegark/arbiter/internal/events"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store"
)

// ErrNotVoting rejects finalization of a session that is not in voting,
// including one that has already been finalized.
var ErrNotVoting = errors.New("session is not in voting")

// Metadata keys written on finalization.
const (
	MetaCancellationReason = "cancellationReason"
	MetaRewards            = "rewards"
	MetaOutcome            = "outcome"
)

// Calculator computes and records session outcomes.
type Calculator struct {
	store store.Store
	pub   events.Publisher
	now   func() time.Time
}

// New creates a calculator. pub may be nil.
func New(s store.Store, pub events.Publisher) *Calculator {
	return &Calculator{store: s, pub: pub, now: time.Now}
}

// CalculateOutcome computes the current outcome of sess without changing it.
func (c *Calculator) CalculateOutcome(ctx context.Context, sess *model.Session) (*model.Outcome, error) {
	o, _, err := c.outcome(ctx, sess)
	return o, err
}

func (c *Calculator) outcome(ctx context.Context, sess *model.Session) (*model.Outcome, []*model.Evaluation, error) {
	evals, err := c.store.ListEvaluations(ctx, sess.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list evaluations: %w", err)
	}
	return Compute(sess, evals), evals, nil
}

// FinalizeSession settles a voting session. An invalid outcome cancels it;
// a valid one completes it with the winner, tallies and reward split in
// metadata. The write is conditional on the session still being in
// voting, so concurrent finalizers settle it once.
func (c *Calculator) FinalizeSession(ctx context.Context, sessionID string) (*model.Outcome, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if sess.Status != model.SessionVoting {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotVoting, sessionID, sess.Status)
	}

	o, evals, err := c.outcome(ctx, sess)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	sess.EndTime = &now
	sess.UpdatedAt = now

	var rewards *model.RewardDistribution
	if !o.IsValid {
		sess.Status = model.SessionCancelled
		sess.Metadata, err = sess.MergeMetadata(map[string]any{MetaCancellationReason: o.InvalidReason})
	} else {
		rewards = CalculateRewards(sess.WagerAmount, o, evals)
		sess.Status = model.SessionCompleted
		sess.WinnerAddress = o.WinnerAddress
		sess.InitiatorVotes = int64(o.InitiatorVotes)
		sess.ChallengerVotes = int64(o.ChallengerVotes)
		sess.Metadata, err = sess.MergeMetadata(map[string]any{MetaRewards: rewards, MetaOutcome: o})
	}
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	ok, err := c.store.UpdateSessionIfStatus(ctx, sess, model.SessionVoting)
	if err != nil {
		return nil, fmt.Errorf("finalize session %s: %w", sessionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s was finalized concurrently", ErrNotVoting, sessionID)
	}

	if o.IsValid {
		slog.Info("session completed", "session", sessionID, "winner", o.Winner, "margin", o.Margin)
		events.Emit(ctx, c.pub, events.TopicSessionCompleted, events.SessionCompleted{Session: sess, Outcome: o, Rewards: rewards})
	} else {
		slog.Info("session cancelled", "session", sessionID, "reason", o.InvalidReason)
		events.Emit(ctx, c.pub, events.TopicSessionCancelled, events.SessionCancelled{SessionID: sessionID, Reason: o.InvalidReason})
	}
	return o, nil
}

// WinProbability is each side's share of the current weight, in percent.
type WinProbability struct {
	Initiator  int `json:"initiator"`
	Challenger int `json:"challenger"`
	Tie        int `json:"tie"`
}

// Summary is the read model of a session's outcome.
type Summary struct {
	Outcome        *model.Outcome            `json:"outcome"`
	Rewards        *model.RewardDistribution `json:"rewards"`
	WinProbability WinProbability            `json:"win_probability"`
}

// Summary returns the outcome and reward split a session would settle
// with now.
func (c *Calculator) Summary(ctx context.Context, sessionID string) (*Summary, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	o, evals, err := c.outcome(ctx, sess)
	if err != nil {
		return nil, err
	}

	p := WinProbability{Initiator: 50, Challenger: 50}
	if total := o.InitiatorWeight + o.ChallengerWeight; total > 0 {
		p.Initiator = int(math.Round(float64(o.InitiatorWeight) / float64(total) * 100))
		p.Challenger = int(math.Round(float64(o.ChallengerWeight) / float64(total) * 100))
	}
	if d := o.InitiatorWeight - o.ChallengerWeight; d > -10 && d < 10 {
		p.Tie = 5
	}

	return &Summary{
		Outcome:        o,
		Rewards:        CalculateRewards(sess.WagerAmount, o, evals),
		WinProbability: p,
	}, nil
}
