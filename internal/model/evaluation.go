package model

import (
	"encoding/json"
	"time"
)

// Evaluation is one evaluator's vote on a session.
// Vote is true for the initiator and false for the challenger.
type Evaluation struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	EvaluatorAddress string    `json:"evaluator_address"`
	Vote             bool      `json:"vote"`
	Weight           int       `json:"weight"`
	Confidence       int       `json:"confidence"`
	Reasoning        string    `json:"reasoning"`
	QualityScore     int       `json:"quality_score"`
	CreatedAt        time.Time `json:"created_at"`
}

// Side returns the side the evaluation voted for.
func (e *Evaluation) Side() Side {
	if e.Vote {
		return SideInitiator
	}
	return SideChallenger
}

// EvaluatorProfile is derived from the credibility ledger and evaluation
// history at weight-calculation time.
type EvaluatorProfile struct {
	Address          string  `json:"address"`
	CredibilityScore float64 `json:"credibility_score"`
	Accuracy         float64 `json:"evaluation_accuracy"`
	TotalEvaluations int     `json:"total_evaluations"`
	RecentActivity   bool    `json:"recent_activity"`
}

// Profile defaults used when an evaluator has no history.
const (
	DefaultCredibilityScore = 50
	DefaultAccuracy         = 50
)

// CredibilityEvent is one entry in the append-only credibility ledger.
type CredibilityEvent struct {
	ID          int64           `json:"id"`
	UserAddress string          `json:"user_address"`
	EventType   string          `json:"event_type"`
	SessionID   string          `json:"session_id,omitempty"`
	Points      int64           `json:"points"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Well-known credibility event types.
const (
	CredibilityWagerPlaced = "wager_placed"
)

// Achievement is a minted achievement token.
type Achievement struct {
	UserAddress     string    `json:"user_address"`
	AchievementType string    `json:"achievement_type"`
	TokenID         string    `json:"token_id"`
	TransactionHash string    `json:"transaction_hash"`
	CreatedAt       time.Time `json:"created_at"`
}
