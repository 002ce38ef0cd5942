// Package outcome settles a session: it decides the winner from the
// weighted evaluations, splits the wager pool and finalizes the session.
package outcome

import (
	"fmt"
	"math"

	"github.com/groblegark/arbiter/internal/model"
)

// MinEvaluations is the smallest panel that yields a valid outcome.
const MinEvaluations = 3

// Pool split in percent.
const (
	PlatformFeePercent   = 5
	EvaluatorPoolPercent = 10
)

// Compute decides the outcome of sess from its evaluations. Fewer than
// MinEvaluations evaluations give an invalid outcome. An exact weight tie
// is broken by vote count, then average confidence, then the earlier
// average submission time.
func Compute(sess *model.Session, evals []*model.Evaluation) *model.Outcome {
	t := tally(evals)
	o := &model.Outcome{
		SessionID:        sess.ID,
		InitiatorVotes:   t.votes[0],
		ChallengerVotes:  t.votes[1],
		InitiatorWeight:  t.weight[0],
		ChallengerWeight: t.weight[1],
		TotalEvaluations: len(evals),
	}

	if len(evals) < MinEvaluations {
		o.Winner = model.SideTie
		o.InvalidReason = fmt.Sprintf("Insufficient evaluations (%d/%d)", len(evals), MinEvaluations)
		return o
	}
	o.IsValid = true

	o.Margin = t.weight[0] - t.weight[1]
	if o.Margin < 0 {
		o.Margin = -o.Margin
	}
	if total := t.weight[0] + t.weight[1]; total > 0 {
		o.MarginPercentage = float64(o.Margin) / float64(total) * 100
	}

	switch {
	case t.weight[0] > t.weight[1]:
		o.Winner = model.SideInitiator
	case t.weight[1] > t.weight[0]:
		o.Winner = model.SideChallenger
	default:
		o.Winner, o.TieBreakMethod = t.breakTie()
	}

	switch o.Winner {
	case model.SideInitiator:
		o.WinnerAddress = sess.InitiatorAddress
	case model.SideChallenger:
		o.WinnerAddress = sess.ChallengerAddress
	}
	return o
}

// sides holds per-side sums; index 0 is the initiator.
type sides struct {
	votes      [2]int
	weight     [2]int64
	confidence [2]int
	submitted  [2]float64
}

func tally(evals []*model.Evaluation) sides {
	var s sides
	for _, e := range evals {
		i := 1
		if e.Vote {
			i = 0
		}
		s.votes[i]++
		s.weight[i] += int64(e.Weight)
		s.confidence[i] += e.Confidence
		s.submitted[i] += float64(e.CreatedAt.UnixMilli())
	}
	return s
}

func (s sides) breakTie() (model.Side, model.TieBreakMethod) {
	if s.votes[0] != s.votes[1] {
		return pick(s.votes[0] > s.votes[1]), model.TieBreakVoteCount
	}

	var conf, at [2]float64
	for i := range 2 {
		if s.votes[i] == 0 {
			at[i] = math.Inf(1)
			continue
		}
		conf[i] = float64(s.confidence[i]) / float64(s.votes[i])
		at[i] = s.submitted[i] / float64(s.votes[i])
	}
	if conf[0] != conf[1] {
		return pick(conf[0] > conf[1]), model.TieBreakConfidence
	}
	if at[0] != at[1] {
		return pick(at[0] < at[1]), model.TieBreakTiming
	}
	return model.SideTie, model.TieBreakUnbroken
}

func pick(initiator bool) model.Side {
	if initiator {
		return model.SideInitiator
	}
	return model.SideChallenger
}

// CalculateRewards splits twice the wager. The platform takes 5%, the
// evaluator pool is 10% of the rest and the winner gets the remainder.
// Evaluators on the winning side share the pool pro rata by weight; on a
// tie every evaluator shares it and the winner amount is split between
// both parties.
func CalculateRewards(wager int64, o *model.Outcome, evals []*model.Evaluation) *model.RewardDistribution {
	total := wager * 2
	fee := total * PlatformFeePercent / 100
	remaining := total - fee
	evaluatorPool := remaining * EvaluatorPoolPercent / 100

	d := &model.RewardDistribution{
		TotalPool:        total,
		PlatformFee:      fee,
		EvaluatorPool:    evaluatorPool,
		WinnerAmount:     remaining - evaluatorPool,
		WinnerAddress:    o.WinnerAddress,
		EvaluatorRewards: []model.EvaluatorReward{},
	}
	if o.Winner == model.SideTie {
		d.InitiatorAmount = d.WinnerAmount / 2
		d.ChallengerAmount = d.WinnerAmount - d.InitiatorAmount
	}

	var eligible []*model.Evaluation
	var weight int64
	for _, e := range evals {
		if o.Winner == model.SideTie || e.Side() == o.Winner {
			eligible = append(eligible, e)
			weight += int64(e.Weight)
		}
	}
	if weight == 0 {
		return d
	}
	for _, e := range eligible {
		share := float64(evaluatorPool) * float64(e.Weight) / float64(weight)
		d.EvaluatorRewards = append(d.EvaluatorRewards, model.EvaluatorReward{
			EvaluatorAddress: e.EvaluatorAddress,
			Weight:           e.Weight,
			Amount:           int64(math.Round(share)),
		})
	}
	return d
}
