package processor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/groblegark/arbiter/internal/events"
	"github.com/groblegark/arbiter/internal/idgen"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/scoring"
	"github.com/groblegark/arbiter/internal/store"
)

// Evaluations mirrored from chain carry no confidence; they get the
// neutral value.
const chainConfidence = 50

func (p *Processor) session(ctx context.Context, tx store.Store, contract string) (*model.Session, error) {
	sess, err := tx.GetSessionByAddress(ctx, contract)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, contract)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", contract, err)
	}
	return sess, nil
}

// transition moves sess to next through mutate. A move the state machine
// does not allow is skipped with a warning so that replays of older
// events never regress a session.
func (p *Processor) transition(ctx context.Context, tx store.Store, sess *model.Session, next model.SessionStatus, res *Result, mutate func(*model.Session) error) (bool, error) {
	prev := sess.Status
	if !prev.CanTransition(next) {
		p.logger.Warn("skipping session transition",
			"session", sess.ID, "from", prev, "to", next)
		res.Skipped = true
		return false, nil
	}
	sess.Status = next
	sess.UpdatedAt = p.now().UTC()
	if mutate != nil {
		if err := mutate(sess); err != nil {
			return false, err
		}
	}
	ok, err := tx.UpdateSessionIfStatus(ctx, sess, prev)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("session %s changed concurrently", sess.ID)
	}
	return true, nil
}

func (p *Processor) sessionCreated(ctx context.Context, tx store.Store, contract string, e model.SessionCreated, res *Result) error {
	existing, err := tx.GetSessionByAddress(ctx, contract)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get session %s: %w", contract, err)
	}
	if existing != nil {
		p.logger.Warn("session already exists", "contract", contract, "session", existing.ID)
		res.Skipped = true
		return nil
	}

	now := p.now().UTC()
	sess := &model.Session{
		ID:                idgen.RecordID(),
		Address:           contract,
		Topic:             e.Topic,
		InitiatorAddress:  model.NormalizeAddress(e.Initiator),
		ChallengerAddress: model.NormalizeAddress(e.Challenger),
		WagerAmount:       e.WagerAmount,
		Status:            model.SessionPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.CreateSession(ctx, sess); err != nil {
		return err
	}
	if err := tx.AddParticipant(ctx, sess.ID, sess.InitiatorAddress, model.RoleInitiator); err != nil {
		return err
	}
	res.notes = append(res.notes, note{events.TopicSessionCreated, events.SessionCreated{Session: sess}})
	return nil
}

func (p *Processor) challengerJoined(ctx context.Context, tx store.Store, contract string, e model.ChallengerJoined, res *Result) error {
	sess, err := p.session(ctx, tx, contract)
	if err != nil {
		return err
	}
	challenger := model.NormalizeAddress(e.Challenger)
	ok, err := p.transition(ctx, tx, sess, model.SessionActive, res, func(s *model.Session) error {
		s.ChallengerAddress = challenger
		start := e.Timestamp
		if start.IsZero() {
			start = s.UpdatedAt
		}
		s.StartTime = &start
		return nil
	})
	if err != nil || !ok {
		return err
	}
	if err := tx.AddParticipant(ctx, sess.ID, challenger, model.RoleChallenger); err != nil {
		return err
	}
	res.notes = append(res.notes, note{events.TopicSessionJoined, events.SessionJoined{Session: sess, Challenger: challenger}})
	return nil
}

func (p *Processor) votingStarted(ctx context.Context, tx store.Store, contract string, e model.VotingStarted, res *Result) error {
	sess, err := p.session(ctx, tx, contract)
	if err != nil {
		return err
	}
	ok, err := p.transition(ctx, tx, sess, model.SessionVoting, res, func(s *model.Session) error {
		if s.VotingStartTime == nil {
			start := s.UpdatedAt
			s.VotingStartTime = &start
		}
		end := e.VotingEndTime
		s.VotingEndTime = &end
		return nil
	})
	if err != nil || !ok {
		return err
	}
	res.notes = append(res.notes, note{events.TopicSessionVotingStarted, events.VotingStarted{Session: sess, VotingEndTime: e.VotingEndTime}})
	return nil
}

func (p *Processor) evaluationSubmitted(ctx context.Context, tx store.Store, contract string, e model.EvaluationSubmitted, res *Result) error {
	sess, err := p.session(ctx, tx, contract)
	if err != nil {
		return err
	}
	eval := &model.Evaluation{
		ID:               idgen.RecordID(),
		SessionID:        sess.ID,
		EvaluatorAddress: model.NormalizeAddress(e.Evaluator),
		Vote:             e.Vote,
		Weight:           max(scoring.MinWeight, min(scoring.MaxWeight, e.Weight)),
		Confidence:       chainConfidence,
		Reasoning:        e.Reasoning,
		CreatedAt:        p.now().UTC(),
	}
	err = tx.CreateEvaluation(ctx, eval)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		p.logger.Debug("evaluation already stored", "session", sess.ID, "evaluator", eval.EvaluatorAddress)
	case err != nil:
		return err
	default:
		res.notes = append(res.notes, note{events.TopicEvaluationSubmitted, events.EvaluationSubmitted{Evaluation: eval}})
	}
	if err := tx.AddParticipant(ctx, sess.ID, eval.EvaluatorAddress, model.RoleEvaluator); err != nil {
		return err
	}
	res.invalidated = sess.ID
	return nil
}

func (p *Processor) resultFinalized(ctx context.Context, tx store.Store, contract string, e model.ResultFinalized, res *Result) error {
	sess, err := p.session(ctx, tx, contract)
	if err != nil {
		return err
	}
	ok, err := p.transition(ctx, tx, sess, model.SessionCompleted, res, func(s *model.Session) error {
		s.WinnerAddress = model.NormalizeAddress(e.Winner)
		s.InitiatorVotes = e.InitiatorWeight
		s.ChallengerVotes = e.ChallengerWeight
		end := s.UpdatedAt
		s.EndTime = &end
		return nil
	})
	if err != nil || !ok {
		return err
	}
	res.notes = append(res.notes, note{events.TopicSessionCompleted, events.SessionCompleted{Session: sess}})
	return nil
}

func (p *Processor) sessionCancelled(ctx context.Context, tx store.Store, contract string, e model.SessionCancelledEvent, res *Result) error {
	sess, err := p.session(ctx, tx, contract)
	if err != nil {
		return err
	}
	ok, err := p.transition(ctx, tx, sess, model.SessionCancelled, res, func(s *model.Session) error {
		end := e.Timestamp
		if end.IsZero() {
			end = s.UpdatedAt
		}
		s.EndTime = &end
		meta, err := s.MergeMetadata(map[string]any{"cancellationReason": e.Reason})
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		s.Metadata = meta
		return nil
	})
	if err != nil || !ok {
		return err
	}
	res.notes = append(res.notes, note{events.TopicSessionCancelled, events.SessionCancelled{SessionID: sess.ID, Reason: e.Reason}})
	return nil
}

func (p *Processor) achievementMinted(ctx context.Context, tx store.Store, l *model.ChainLog, e model.AchievementMinted) error {
	return tx.UpsertAchievement(ctx, &model.Achievement{
		UserAddress:     model.NormalizeAddress(e.Recipient),
		AchievementType: e.AchievementType,
		TokenID:         e.TokenID,
		TransactionHash: l.TransactionHash,
		CreatedAt:       p.now().UTC(),
	})
}

func (p *Processor) credibilityUpdated(ctx context.Context, tx store.Store, l *model.ChainLog, e model.CredibilityUpdated) error {
	meta, _ := json.Marshal(map[string]string{"transactionHash": l.TransactionHash})
	return tx.AddCredibilityEvent(ctx, &model.CredibilityEvent{
		UserAddress: model.NormalizeAddress(e.User),
		EventType:   e.EventType,
		Points:      e.NewScore,
		Metadata:    meta,
		CreatedAt:   p.now().UTC(),
	})
}

func (p *Processor) wagerDeposited(ctx context.Context, tx store.Store, contract string, e model.WagerDeposited) error {
	sess, err := p.session(ctx, tx, contract)
	if err != nil {
		return err
	}
	meta, _ := json.Marshal(map[string]string{"amount": strconv.FormatInt(e.Amount, 10)})
	return tx.AddCredibilityEvent(ctx, &model.CredibilityEvent{
		UserAddress: model.NormalizeAddress(e.Participant),
		EventType:   model.CredibilityWagerPlaced,
		SessionID:   sess.ID,
		Points:      0,
		Metadata:    meta,
		CreatedAt:   p.now().UTC(),
	})
}
