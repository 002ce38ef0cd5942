package model

// Side is the party an evaluation or an outcome favors.
type Side string

const (
	SideInitiator  Side = "initiator"
	SideChallenger Side = "challenger"
	SideTie        Side = "tie"
)

// TieBreakMethod names the signal that resolved an exact weight tie.
type TieBreakMethod string

const (
	TieBreakNone       TieBreakMethod = ""
	TieBreakVoteCount  TieBreakMethod = "vote_count"
	TieBreakConfidence TieBreakMethod = "confidence"
	TieBreakTiming     TieBreakMethod = "timing"
	TieBreakUnbroken   TieBreakMethod = "unbreakable_tie"
)

// Outcome is the verdict computed from a session's evaluations.
type Outcome struct {
	SessionID        string         `json:"session_id"`
	Winner           Side           `json:"winner,omitempty"`
	WinnerAddress    string         `json:"winner_address,omitempty"`
	InitiatorVotes   int            `json:"initiator_votes"`
	ChallengerVotes  int            `json:"challenger_votes"`
	InitiatorWeight  int64          `json:"initiator_weight"`
	ChallengerWeight int64          `json:"challenger_weight"`
	TotalEvaluations int            `json:"total_evaluations"`
	Margin           int64          `json:"margin"`
	MarginPercentage float64        `json:"margin_percentage"`
	IsValid          bool           `json:"is_valid"`
	InvalidReason    string         `json:"invalid_reason,omitempty"`
	TieBreakMethod   TieBreakMethod `json:"tie_break_method,omitempty"`
}

// EvaluatorReward is one evaluator's share of the evaluator pool.
type EvaluatorReward struct {
	EvaluatorAddress string `json:"evaluator_address"`
	Weight           int    `json:"weight"`
	Amount           int64  `json:"amount"`
}

// RewardDistribution splits the wager pool of a finalized session.
// On an unbreakable tie the winner amount is split between InitiatorAmount
// and ChallengerAmount.
type RewardDistribution struct {
	TotalPool        int64             `json:"total_pool"`
	PlatformFee      int64             `json:"platform_fee"`
	EvaluatorPool    int64             `json:"evaluator_pool"`
	WinnerAmount     int64             `json:"winner_amount"`
	WinnerAddress    string            `json:"winner_address,omitempty"`
	InitiatorAmount  int64             `json:"initiator_amount,omitempty"`
	ChallengerAmount int64             `json:"challenger_amount,omitempty"`
	EvaluatorRewards []EvaluatorReward `json:"evaluator_rewards"`
}

// ConsensusLevel labels how lopsided the weighted vote is.
type ConsensusLevel string

const (
	ConsensusStrong   ConsensusLevel = "strong"
	ConsensusModerate ConsensusLevel = "moderate"
	ConsensusWeak     ConsensusLevel = "weak"
	ConsensusDivided  ConsensusLevel = "divided"
)

// Assessment aggregates all admitted evaluations of a session.
type Assessment struct {
	SessionID            string         `json:"session_id"`
	TotalEvaluations     int            `json:"total_evaluations"`
	InitiatorVotes       int            `json:"initiator_votes"`
	ChallengerVotes      int            `json:"challenger_votes"`
	InitiatorWeight      int64          `json:"initiator_weight"`
	ChallengerWeight     int64          `json:"challenger_weight"`
	TotalWeight          int64          `json:"total_weight"`
	InitiatorPercentage  float64        `json:"initiator_percentage"`
	ChallengerPercentage float64        `json:"challenger_percentage"`
	AverageConfidence    float64        `json:"average_confidence"`
	ConsensusStrength    int            `json:"consensus_strength"`
	ConsensusLevel       ConsensusLevel `json:"consensus_level"`
	Leader               Side           `json:"leader"`
}
