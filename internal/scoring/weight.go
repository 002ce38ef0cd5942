// Package scoring turns a vote into a weight and screens reasoning for
// abuse. Everything here is pure and deterministic.
package scoring

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/groblegark/arbiter/internal/model"
)

// Weight bounds and the base every multiplier scales.
const (
	BaseWeight = 100
	MinWeight  = 10
	MaxWeight  = 300
)

// coldStartEvaluations is the history needed before credibility counts.
const coldStartEvaluations = 5

// Input is a vote as submitted.
type Input struct {
	EvaluatorAddress string
	Vote             bool
	Confidence       int
	Reasoning        string
	SubmittedAt      time.Time
}

// Breakdown expresses each multiplier as a percentage of BaseWeight.
type Breakdown struct {
	Credibility      int `json:"credibility"`
	Confidence       int `json:"confidence"`
	Timing           int `json:"timing"`
	ReasoningQuality int `json:"reasoning_quality"`
}

// WeightResult is the outcome of CalculateWeight.
type WeightResult struct {
	BaseWeight                 int       `json:"base_weight"`
	CredibilityMultiplier      float64   `json:"credibility_multiplier"`
	ConfidenceMultiplier       float64   `json:"confidence_multiplier"`
	TimingMultiplier           float64   `json:"timing_multiplier"`
	ReasoningQualityMultiplier float64   `json:"reasoning_quality_multiplier"`
	FinalWeight                int       `json:"final_weight"`
	Breakdown                  Breakdown `json:"breakdown"`
}

// CalculateWeight scores in against the evaluator's profile and the voting
// window. The result is always within [MinWeight, MaxWeight].
func CalculateWeight(in Input, profile model.EvaluatorProfile, votingStart, votingEnd time.Time) WeightResult {
	cred := CredibilityMultiplier(profile)
	conf := ConfidenceMultiplier(in.Confidence)
	timing := TimingMultiplier(in.SubmittedAt, votingStart, votingEnd)
	reasoning := ReasoningQualityMultiplier(in.Reasoning)

	w := int(math.Round(BaseWeight * cred * conf * timing * reasoning))
	return WeightResult{
		BaseWeight:                 BaseWeight,
		CredibilityMultiplier:      cred,
		ConfidenceMultiplier:       conf,
		TimingMultiplier:           timing,
		ReasoningQualityMultiplier: reasoning,
		FinalWeight:                clampInt(w, MinWeight, MaxWeight),
		Breakdown: Breakdown{
			Credibility:      percent(cred),
			Confidence:       percent(conf),
			Timing:           percent(timing),
			ReasoningQuality: percent(reasoning),
		},
	}
}

// CredibilityMultiplier maps an evaluator's track record to [0.5, 2.0].
// Evaluators with fewer than five evaluations get a neutral 1.0.
func CredibilityMultiplier(p model.EvaluatorProfile) float64 {
	if p.TotalEvaluations < coldStartEvaluations {
		return 1.0
	}
	m := 0.5 + p.CredibilityScore/100*1.5
	switch {
	case p.Accuracy > 75:
		m *= 1.1
	case p.Accuracy < 40:
		m *= 0.9
	}
	m += math.Min(float64(p.TotalEvaluations)/100, 0.2)
	return math.Max(0.5, math.Min(2.0, m))
}

// ConfidenceMultiplier maps a 0-100 confidence to [0.5, 1.5].
func ConfidenceMultiplier(confidence int) float64 {
	switch {
	case confidence >= 80:
		return 1.5
	case confidence >= 60:
		return 1.2
	case confidence >= 40:
		return 1.0
	case confidence >= 20:
		return 0.8
	default:
		return 0.5
	}
}

// TimingMultiplier favors votes cast in the first fifth of the window and
// discounts the last fifth. An empty or inverted window is neutral.
func TimingMultiplier(submitted, start, end time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 {
		return 1.0
	}
	elapsed := float64(submitted.Sub(start)) / float64(total)
	switch {
	case elapsed < 0.2:
		return 1.2
	case elapsed < 0.8:
		return 1.0
	default:
		return 0.8
	}
}

// ReasoningQualityMultiplier rates the length of the trimmed reasoning.
func ReasoningQualityMultiplier(reasoning string) float64 {
	r := strings.TrimSpace(reasoning)
	if r == "" {
		return 0.8
	}
	n := utf8.RuneCountInString(r)
	words := len(strings.Fields(r))

	switch {
	case n < 20 || words < 5:
		return 0.9
	case n >= 50 && n <= 500 && words >= 10 && words <= 100:
		return 1.3
	case (n >= 20 && n < 50) || (n > 500 && n <= 1000):
		return 1.1
	case n > 1000 || words > 200:
		return 0.95
	default:
		return 1.0
	}
}

// QualityScore rates an admitted evaluation from 0 to 100: up to 50 for
// reasoning length, 30 for confidence and 20 for weight.
func QualityScore(in Input, weight int) int {
	n := float64(utf8.RuneCountInString(strings.TrimSpace(in.Reasoning)))
	reasoning := math.Min(n/200*50, 50)
	confidence := float64(in.Confidence) / 100 * 30
	w := math.Min(float64(weight)/MaxWeight*20, 20)
	return int(math.Round(reasoning + confidence + w))
}

// Tier is a credibility label shown in evaluator history.
type Tier string

const (
	TierNovice       Tier = "novice"
	TierIntermediate Tier = "intermediate"
	TierExpert       Tier = "expert"
	TierMaster       Tier = "master"
)

// CredibilityTier labels a credibility score.
func CredibilityTier(score float64) Tier {
	switch {
	case score >= 200:
		return TierMaster
	case score >= 100:
		return TierExpert
	case score >= 50:
		return TierIntermediate
	default:
		return TierNovice
	}
}

func percent(m float64) int {
	return int(math.Round(BaseWeight * m))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
