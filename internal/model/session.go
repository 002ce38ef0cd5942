package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a debate session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionVoting    SessionStatus = "voting"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// String returns the string representation of the status.
func (s SessionStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionPending, SessionActive, SessionVoting, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// CanTransition reports whether a session may move from s to next.
// pending -> active -> voting -> completed, and any non-terminal state may
// be cancelled.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch next {
	case SessionActive:
		return s == SessionPending
	case SessionVoting:
		return s == SessionActive
	case SessionCompleted:
		return s == SessionVoting
	case SessionCancelled:
		return !s.IsTerminal() && s.IsValid()
	}
	return false
}

// Session is a wagered debate between an initiator and a challenger.
type Session struct {
	ID                string          `json:"id"`
	Address           string          `json:"session_address"`
	Topic             string          `json:"topic"`
	Description       string          `json:"description,omitempty"`
	InitiatorAddress  string          `json:"initiator_address"`
	ChallengerAddress string          `json:"challenger_address,omitempty"`
	WagerAmount       int64           `json:"wager_amount"`
	Status            SessionStatus   `json:"status"`
	StartTime         *time.Time      `json:"start_time,omitempty"`
	VotingStartTime   *time.Time      `json:"voting_start_time,omitempty"`
	VotingEndTime     *time.Time      `json:"voting_end_time,omitempty"`
	EndTime           *time.Time      `json:"end_time,omitempty"`
	WinnerAddress     string          `json:"winner_address,omitempty"`
	InitiatorVotes    int64           `json:"initiator_votes"`
	ChallengerVotes   int64           `json:"challenger_votes"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsParticipant reports whether addr is the initiator or the challenger.
func (s *Session) IsParticipant(addr string) bool {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return false
	}
	return addr == NormalizeAddress(s.InitiatorAddress) || addr == NormalizeAddress(s.ChallengerAddress)
}

// VotingWindow returns the start and end of the voting window. The start
// falls back to the session start time when voting_start_time is unset.
func (s *Session) VotingWindow() (start, end time.Time) {
	switch {
	case s.VotingStartTime != nil:
		start = *s.VotingStartTime
	case s.StartTime != nil:
		start = *s.StartTime
	default:
		start = s.CreatedAt
	}
	if s.VotingEndTime != nil {
		end = *s.VotingEndTime
	}
	return start, end
}

// MetadataMap decodes the metadata column. A malformed or empty column
// yields an empty map.
func (s *Session) MetadataMap() map[string]any {
	m := make(map[string]any)
	if len(s.Metadata) > 0 {
		_ = json.Unmarshal(s.Metadata, &m)
	}
	return m
}

// MergeMetadata returns the session metadata with extra keys merged in.
func (s *Session) MergeMetadata(extra map[string]any) (json.RawMessage, error) {
	m := s.MetadataMap()
	for k, v := range extra {
		m[k] = v
	}
	return json.Marshal(m)
}

// ParticipantRole is a session participant's role.
type ParticipantRole string

const (
	RoleInitiator  ParticipantRole = "initiator"
	RoleChallenger ParticipantRole = "challenger"
	RoleEvaluator  ParticipantRole = "evaluator"
)

// NormalizeAddress trims a chain address and lower-cases hex forms ("0x...").
// Base58 addresses are case-sensitive and kept verbatim.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		return strings.ToLower(addr)
	}
	return addr
}
