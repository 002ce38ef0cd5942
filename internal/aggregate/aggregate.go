// Package aggregate summarizes a session's evaluations into a weighted
// assessment and caches the result.
package aggregate

import (
	"context"
	"fmt"
	"math"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store"
)

// Aggregator computes assessments from the evaluation store.
type Aggregator struct {
	store store.Store
	cache *Cache
}

// New creates an aggregator backed by s. A nil cache disables caching.
func New(s store.Store, cache *Cache) *Aggregator {
	return &Aggregator{store: s, cache: cache}
}

// Assessment returns the current assessment for a session. An unknown
// session returns sql.ErrNoRows.
func (a *Aggregator) Assessment(ctx context.Context, sessionID string) (*model.Assessment, error) {
	var gen uint64
	if a.cache != nil {
		if cached, ok := a.cache.Get(sessionID); ok {
			return cached, nil
		}
		gen = a.cache.Generation(sessionID)
	}

	if _, err := a.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	evals, err := a.store.ListEvaluations(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}

	result := Aggregate(sessionID, evals)
	if a.cache != nil {
		a.cache.Put(result, gen)
	}
	return result, nil
}

// Invalidate drops the cached assessment for a session. Call it after an
// evaluation insert commits.
func (a *Aggregator) Invalidate(sessionID string) {
	if a.cache != nil {
		a.cache.Invalidate(sessionID)
	}
}

// Aggregate tallies evals. Percentages are shares of total weight.
func Aggregate(sessionID string, evals []*model.Evaluation) *model.Assessment {
	out := &model.Assessment{SessionID: sessionID, TotalEvaluations: len(evals)}

	var confidence int
	for _, e := range evals {
		confidence += e.Confidence
		if e.Vote {
			out.InitiatorVotes++
			out.InitiatorWeight += int64(e.Weight)
		} else {
			out.ChallengerVotes++
			out.ChallengerWeight += int64(e.Weight)
		}
	}
	out.TotalWeight = out.InitiatorWeight + out.ChallengerWeight

	if out.TotalWeight > 0 {
		out.InitiatorPercentage = float64(out.InitiatorWeight) / float64(out.TotalWeight) * 100
		out.ChallengerPercentage = float64(out.ChallengerWeight) / float64(out.TotalWeight) * 100
	}
	if len(evals) > 0 {
		out.AverageConfidence = float64(confidence) / float64(len(evals))
	}
	out.ConsensusStrength = ConsensusStrength(out.InitiatorWeight, out.ChallengerWeight)
	out.ConsensusLevel = Level(out.ConsensusStrength)

	switch {
	case out.InitiatorWeight > out.ChallengerWeight:
		out.Leader = model.SideInitiator
	case out.ChallengerWeight > out.InitiatorWeight:
		out.Leader = model.SideChallenger
	default:
		out.Leader = model.SideTie
	}
	return out
}

// ConsensusStrength is how far the weighted vote leans to one side, from 0
// (even) to 100 (unanimous).
func ConsensusStrength(initiator, challenger int64) int {
	total := initiator + challenger
	if total == 0 {
		return 0
	}
	diff := initiator - challenger
	if diff < 0 {
		diff = -diff
	}
	return int(math.Round(float64(diff) / float64(total) * 100))
}

// Level labels a consensus strength.
func Level(strength int) model.ConsensusLevel {
	switch {
	case strength >= 70:
		return model.ConsensusStrong
	case strength >= 50:
		return model.ConsensusModerate
	case strength >= 30:
		return model.ConsensusWeak
	default:
		return model.ConsensusDivided
	}
}
