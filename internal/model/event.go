package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EventName identifies a contract notification.
type EventName string

const (
	EventSessionCreated      EventName = "SessionCreated"
	EventChallengerJoined    EventName = "ChallengerJoined"
	EventVotingStarted       EventName = "VotingStarted"
	EventEvaluationSubmitted EventName = "EvaluationSubmitted"
	EventResultFinalized     EventName = "ResultFinalized"
	EventSessionCancelled    EventName = "SessionCancelled"
	EventAchievementMinted   EventName = "AchievementMinted"
	EventCredibilityUpdated  EventName = "CredibilityUpdated"
	EventWagerDeposited      EventName = "WagerDeposited"
)

// KnownEvents lists every event the processor can apply.
var KnownEvents = []EventName{
	EventSessionCreated,
	EventChallengerJoined,
	EventVotingStarted,
	EventEvaluationSubmitted,
	EventResultFinalized,
	EventSessionCancelled,
	EventAchievementMinted,
	EventCredibilityUpdated,
	EventWagerDeposited,
}

// IsKnown reports whether n is one of KnownEvents.
func (n EventName) IsKnown() bool {
	for _, k := range KnownEvents {
		if k == n {
			return true
		}
	}
	return false
}

// Priority is the queue priority given to logs of this event. Terminal
// session transitions drain first.
func (n EventName) Priority() int {
	switch n {
	case EventResultFinalized, EventSessionCancelled:
		return 3
	case EventVotingStarted, EventChallengerJoined:
		return 2
	default:
		return 1
	}
}

// ChainLog is a contract notification as discovered on the ledger. It is
// the payload stored on queue items. Args are the notification's items
// rendered as strings in declaration order.
type ChainLog struct {
	ContractAddress string    `json:"contract_address"`
	EventName       EventName `json:"event_name"`
	BlockNumber     uint64    `json:"block_number"`
	TransactionHash string    `json:"transaction_hash"`
	LogIndex        int       `json:"log_index"`
	Args            []string  `json:"args"`
}

// ChainEvent is the closed set of typed contract events. Use a type switch
// over the concrete types to dispatch.
type ChainEvent interface {
	Name() EventName
	chainEvent()
}

// SessionCreated(initiator, challenger, wagerAmount, topic)
type SessionCreated struct {
	Initiator   string
	Challenger  string
	WagerAmount int64
	Topic       string
}

// ChallengerJoined(challenger, timestamp)
type ChallengerJoined struct {
	Challenger string
	Timestamp  time.Time
}

// VotingStarted(votingEndTime)
type VotingStarted struct {
	VotingEndTime time.Time
}

// EvaluationSubmitted(evaluator, vote, weight, reasoning)
type EvaluationSubmitted struct {
	Evaluator string
	Vote      bool
	Weight    int
	Reasoning string
}

// ResultFinalized(winner, initiatorWeight, challengerWeight)
type ResultFinalized struct {
	Winner           string
	InitiatorWeight  int64
	ChallengerWeight int64
}

// SessionCancelledEvent is SessionCancelled(reason, timestamp).
type SessionCancelledEvent struct {
	Reason    string
	Timestamp time.Time
}

// AchievementMinted(recipient, achievementType, tokenId)
type AchievementMinted struct {
	Recipient       string
	AchievementType string
	TokenID         string
}

// CredibilityUpdated(user, newScore, eventType)
type CredibilityUpdated struct {
	User      string
	NewScore  int64
	EventType string
}

// WagerDeposited(participant, amount)
type WagerDeposited struct {
	Participant string
	Amount      int64
}

func (SessionCreated) Name() EventName        { return EventSessionCreated }
func (ChallengerJoined) Name() EventName      { return EventChallengerJoined }
func (VotingStarted) Name() EventName         { return EventVotingStarted }
func (EvaluationSubmitted) Name() EventName   { return EventEvaluationSubmitted }
func (ResultFinalized) Name() EventName       { return EventResultFinalized }
func (SessionCancelledEvent) Name() EventName { return EventSessionCancelled }
func (AchievementMinted) Name() EventName     { return EventAchievementMinted }
func (CredibilityUpdated) Name() EventName    { return EventCredibilityUpdated }
func (WagerDeposited) Name() EventName        { return EventWagerDeposited }

func (SessionCreated) chainEvent()        {}
func (ChallengerJoined) chainEvent()      {}
func (VotingStarted) chainEvent()         {}
func (EvaluationSubmitted) chainEvent()   {}
func (ResultFinalized) chainEvent()       {}
func (SessionCancelledEvent) chainEvent() {}
func (AchievementMinted) chainEvent()     {}
func (CredibilityUpdated) chainEvent()    {}
func (WagerDeposited) chainEvent()        {}

// DecodeChainLog parses a queue payload into a ChainLog.
func DecodeChainLog(payload []byte) (*ChainLog, error) {
	var l ChainLog
	if err := json.Unmarshal(payload, &l); err != nil {
		return nil, fmt.Errorf("decode chain log: %w", err)
	}
	if l.TransactionHash == "" {
		return nil, fmt.Errorf("decode chain log: missing transaction hash")
	}
	return &l, nil
}

// DecodeEvent converts the positional args of a log into its typed event.
func DecodeEvent(l *ChainLog) (ChainEvent, error) {
	a := args{name: l.EventName, vals: l.Args}
	var ev ChainEvent
	switch l.EventName {
	case EventSessionCreated:
		ev = SessionCreated{
			Initiator:   a.str(0),
			Challenger:  a.str(1),
			WagerAmount: a.integer(2),
			Topic:       a.str(3),
		}
	case EventChallengerJoined:
		ev = ChallengerJoined{Challenger: a.str(0), Timestamp: a.unix(1)}
	case EventVotingStarted:
		end := a.unix(0)
		if a.err == nil && end.IsZero() {
			a.err = fmt.Errorf("decode %s: voting end time is unset", l.EventName)
		}
		ev = VotingStarted{VotingEndTime: end}
	case EventEvaluationSubmitted:
		ev = EvaluationSubmitted{
			Evaluator: a.str(0),
			Vote:      a.boolean(1),
			Weight:    int(a.integer(2)),
			Reasoning: a.str(3),
		}
	case EventResultFinalized:
		ev = ResultFinalized{Winner: a.str(0), InitiatorWeight: a.integer(1), ChallengerWeight: a.integer(2)}
	case EventSessionCancelled:
		ev = SessionCancelledEvent{Reason: a.str(0), Timestamp: a.unix(1)}
	case EventAchievementMinted:
		ev = AchievementMinted{Recipient: a.str(0), AchievementType: a.str(1), TokenID: a.str(2)}
	case EventCredibilityUpdated:
		ev = CredibilityUpdated{User: a.str(0), NewScore: a.integer(1), EventType: a.str(2)}
	case EventWagerDeposited:
		ev = WagerDeposited{Participant: a.str(0), Amount: a.integer(1)}
	default:
		return nil, fmt.Errorf("unknown event %q", l.EventName)
	}
	if a.err != nil {
		return nil, a.err
	}
	return ev, nil
}

// args reads positional notification args, keeping the first error.
type args struct {
	name EventName
	vals []string
	err  error
}

func (a *args) str(i int) string {
	if i >= len(a.vals) {
		if a.err == nil {
			a.err = fmt.Errorf("decode %s: missing arg %d", a.name, i)
		}
		return ""
	}
	return a.vals[i]
}

func (a *args) integer(i int) int64 {
	s := a.str(i)
	if a.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		a.err = fmt.Errorf("decode %s: arg %d: %w", a.name, i, err)
	}
	return n
}

func (a *args) boolean(i int) bool {
	s := a.str(i)
	if a.err != nil {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		a.err = fmt.Errorf("decode %s: arg %d: %w", a.name, i, err)
	}
	return b
}

// unix reads a timestamp since the epoch. Values past msThreshold are
// milliseconds, as emitted by Neo's runtime clock; smaller ones are seconds.
// Zero means unset.
func (a *args) unix(i int) time.Time {
	n := a.integer(i)
	if a.err != nil || n == 0 {
		return time.Time{}
	}
	if n > msThreshold {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

const msThreshold = 1e11
