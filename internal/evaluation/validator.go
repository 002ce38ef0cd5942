// Package evaluation admits votes: it validates a submission, screens it
// for spam, weighs it and stores it.
package evaluation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store"
)

// Submission limits.
const (
	MinReasoningLength   = 10
	MaxReasoningLength   = 2000
	MaxEvaluationsPerHr  = 10
	MaxSessionEvaluation = 100
)

// Messages returned to submitters.
const (
	MsgSessionNotFound = "Session not found"
	MsgNoEvaluator     = "Evaluator address is required"
	MsgVotingEnded     = "Voting period has ended"
	MsgInitiatorVote   = "Initiator cannot evaluate their own session"
	MsgChallengerVote  = "Challenger cannot evaluate their own session"
	MsgDuplicate       = "You have already submitted an evaluation for this session"
	MsgConfidenceRange = "Confidence must be between 0 and 100"
	MsgReasoningEmpty  = "Reasoning is required"
	MsgReasoningShort  = "Reasoning must be at least 10 characters"
	MsgReasoningLong   = "Reasoning must not exceed 2000 characters"
	MsgRateLimited     = "Too many recent evaluations - please wait before submitting more"
	MsgSessionFull     = "Maximum evaluations reached for this session"

	WarnLowConfidence  = "Very low confidence may reduce your evaluation weight"
	WarnFullConfidence = "100% confidence is rare - ensure you have strong evidence"
	WarnShortReasoning = "Short reasoning may reduce your evaluation weight"
)

// Submission is a vote as received from a client.
type Submission struct {
	SessionID        string `json:"session_id"`
	EvaluatorAddress string `json:"evaluator_address"`
	Vote             bool   `json:"vote"`
	Confidence       int    `json:"confidence"`
	Reasoning        string `json:"reasoning"`
}

// Result lists every problem found with a submission. Warnings never block
// it.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidationError rejects a submission. Err, when set, is the sentinel
// behind the rejection (ErrSpam).
type ValidationError struct {
	Errors   []string
	Warnings []string
	Err      error
}

func (e *ValidationError) Error() string {
	return "invalid evaluation: " + strings.Join(e.Errors, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator checks submissions against session state and the evaluator's
// recent activity.
type Validator struct {
	store store.Store
	now   func() time.Time
}

// NewValidator creates a validator reading from s.
func NewValidator(s store.Store) *Validator {
	return &Validator{store: s, now: time.Now}
}

// Validate checks sub. Store failures are returned as errors; rule
// violations are reported in the Result.
func (v *Validator) Validate(ctx context.Context, sub Submission) (*Result, error) {
	res, _, err := v.validate(ctx, sub)
	return res, err
}

func (v *Validator) validate(ctx context.Context, sub Submission) (*Result, *model.Session, error) {
	res := &Result{Errors: []string{}, Warnings: []string{}}
	evaluator := model.NormalizeAddress(sub.EvaluatorAddress)

	sess, err := v.store.GetSession(ctx, sub.SessionID)
	if errors.Is(err, sql.ErrNoRows) {
		res.Errors = append(res.Errors, MsgSessionNotFound)
		return res, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get session: %w", err)
	}

	now := v.now()
	if sess.Status != model.SessionVoting {
		res.Errors = append(res.Errors, fmt.Sprintf("Session is not in voting phase (current status: %s)", sess.Status))
	}
	if sess.VotingEndTime != nil {
		remaining := sess.VotingEndTime.Sub(now)
		if remaining < 0 {
			res.Errors = append(res.Errors, MsgVotingEnded)
		} else if remaining > 0 && remaining < time.Hour {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("Only %d minutes remaining to evaluate", int(math.Round(remaining.Minutes()))))
		}
	}

	if evaluator == "" {
		res.Errors = append(res.Errors, MsgNoEvaluator)
	}
	if evaluator != "" && evaluator == model.NormalizeAddress(sess.InitiatorAddress) {
		res.Errors = append(res.Errors, MsgInitiatorVote)
	}
	if evaluator != "" && evaluator == model.NormalizeAddress(sess.ChallengerAddress) {
		res.Errors = append(res.Errors, MsgChallengerVote)
	}

	dup, err := v.store.HasEvaluation(ctx, sess.ID, evaluator)
	if err != nil {
		return nil, nil, fmt.Errorf("check duplicate: %w", err)
	}
	if dup {
		res.Errors = append(res.Errors, MsgDuplicate)
	}

	switch {
	case sub.Confidence < 0 || sub.Confidence > 100:
		res.Errors = append(res.Errors, MsgConfidenceRange)
	case sub.Confidence < 20:
		res.Warnings = append(res.Warnings, WarnLowConfidence)
	case sub.Confidence == 100:
		res.Warnings = append(res.Warnings, WarnFullConfidence)
	}

	n := utf8.RuneCountInString(strings.TrimSpace(sub.Reasoning))
	switch {
	case n == 0:
		res.Errors = append(res.Errors, MsgReasoningEmpty)
	case n < MinReasoningLength:
		res.Errors = append(res.Errors, MsgReasoningShort)
	case n > MaxReasoningLength:
		res.Errors = append(res.Errors, MsgReasoningLong)
	}
	if n > 0 && n < 50 {
		res.Warnings = append(res.Warnings, WarnShortReasoning)
	}

	recent, err := v.store.CountEvaluationsSince(ctx, evaluator, now.Add(-time.Hour))
	if err != nil {
		return nil, nil, fmt.Errorf("count recent evaluations: %w", err)
	}
	if recent >= MaxEvaluationsPerHr {
		res.Errors = append(res.Errors, MsgRateLimited)
	}

	count, err := v.store.CountEvaluations(ctx, sess.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("count session evaluations: %w", err)
	}
	if count >= MaxSessionEvaluation {
		res.Errors = append(res.Errors, MsgSessionFull)
	} else if count*10 >= MaxSessionEvaluation*9 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Session nearing maximum evaluations (%d/%d)", count, MaxSessionEvaluation))
	}

	res.Valid = len(res.Errors) == 0
	return res, sess, nil
}
