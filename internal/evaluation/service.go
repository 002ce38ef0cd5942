package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/groblegark/arbiter/internal/events"
	"github.com/groblegark/arbiter/internal/idgen"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/scoring"
	"github.com/groblegark/arbiter/internal/store"
)

// ErrSpam rejects a submission that looks like abuse. It is wrapped in a
// *ValidationError whose Errors carry the reason.
var ErrSpam = errors.New("evaluation rejected as spam")

// MsgSpamPrefix starts the error reported for a spam rejection.
const MsgSpamPrefix = "Evaluation rejected: "

// Invalidator drops cached state for a session after its evaluations change.
type Invalidator interface {
	Invalidate(sessionID string)
}

// Service admits and reads evaluations.
type Service struct {
	store     store.Store
	validator *Validator
	cache     Invalidator
	pub       events.Publisher
	now       func() time.Time
}

// NewService wires a service. cache and pub may be nil.
func NewService(s store.Store, cache Invalidator, pub events.Publisher) *Service {
	return &Service{
		store:     s,
		validator: NewValidator(s),
		cache:     cache,
		pub:       pub,
		now:       time.Now,
	}
}

// Submitted is the result of a successful Submit.
type Submitted struct {
	Evaluation *model.Evaluation    `json:"evaluation"`
	Weight     scoring.WeightResult `json:"weight"`
	Warnings   []string             `json:"warnings"`
}

// Submit validates, screens, weighs and stores a vote. Rule violations
// and spam return *ValidationError; spam also matches ErrSpam.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Submitted, error) {
	sub.EvaluatorAddress = model.NormalizeAddress(sub.EvaluatorAddress)
	res, sess, err := s.validator.validate(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, &ValidationError{Errors: res.Errors, Warnings: res.Warnings}
	}

	existing, err := s.store.ListEvaluations(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	previous := make([]string, len(existing))
	for i, e := range existing {
		previous[i] = e.Reasoning
	}
	if spam, reason := scoring.DetectSpam(sub.Reasoning, previous); spam {
		return nil, &ValidationError{Errors: []string{MsgSpamPrefix + reason}, Warnings: res.Warnings, Err: ErrSpam}
	}

	profile, err := s.store.GetEvaluatorProfile(ctx, sub.EvaluatorAddress)
	if err != nil {
		return nil, fmt.Errorf("get evaluator profile: %w", err)
	}

	now := s.now().UTC()
	in := scoring.Input{
		EvaluatorAddress: sub.EvaluatorAddress,
		Vote:             sub.Vote,
		Confidence:       sub.Confidence,
		Reasoning:        sub.Reasoning,
		SubmittedAt:      now,
	}
	start, end := sess.VotingWindow()
	weight := scoring.CalculateWeight(in, *profile, start, end)

	eval := &model.Evaluation{
		ID:               idgen.RecordID(),
		SessionID:        sess.ID,
		EvaluatorAddress: sub.EvaluatorAddress,
		Vote:             sub.Vote,
		Weight:           weight.FinalWeight,
		Confidence:       sub.Confidence,
		Reasoning:        sub.Reasoning,
		QualityScore:     scoring.QualityScore(in, weight.FinalWeight),
		CreatedAt:        now,
	}

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreateEvaluation(ctx, eval); err != nil {
			return err
		}
		return tx.AddParticipant(ctx, sess.ID, eval.EvaluatorAddress, model.RoleEvaluator)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, &ValidationError{Errors: []string{MsgDuplicate}, Warnings: res.Warnings}
	}
	if err != nil {
		return nil, fmt.Errorf("store evaluation: %w", err)
	}

	if s.cache != nil {
		s.cache.Invalidate(sess.ID)
	}
	events.Emit(ctx, s.pub, events.TopicEvaluationSubmitted, events.EvaluationSubmitted{Evaluation: eval})

	return &Submitted{Evaluation: eval, Weight: weight, Warnings: res.Warnings}, nil
}

// Get returns one evaluation. A missing ID returns sql.ErrNoRows.
func (s *Service) Get(ctx context.Context, id string) (*model.Evaluation, error) {
	return s.store.GetEvaluation(ctx, id)
}

// ListBySession returns a session's evaluations, oldest first.
func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]*model.Evaluation, error) {
	return s.store.ListEvaluations(ctx, sessionID)
}

// History is an evaluator's recent evaluations with their derived profile.
type History struct {
	Profile     *model.EvaluatorProfile `json:"profile"`
	Tier        scoring.Tier            `json:"tier"`
	Evaluations []*model.Evaluation     `json:"evaluations"`
}

// ListByEvaluator returns an evaluator's most recent evaluations and
// profile. limit <= 0 selects the store default.
func (s *Service) ListByEvaluator(ctx context.Context, evaluator string, limit int) (*History, error) {
	evaluator = model.NormalizeAddress(evaluator)
	evals, err := s.store.ListEvaluationsByEvaluator(ctx, evaluator, limit)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	profile, err := s.store.GetEvaluatorProfile(ctx, evaluator)
	if err != nil {
		return nil, fmt.Errorf("get evaluator profile: %w", err)
	}
	return &History{
		Profile:     profile,
		Tier:        scoring.CredibilityTier(profile.CredibilityScore),
		Evaluations: evals,
	}, nil
}
