// Package events publishes session lifecycle notifications.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/groblegark/arbiter/internal/model"
)

// Notification topics.
const (
	TopicSessionCreated       = "arbiter.session.created"
	TopicSessionJoined        = "arbiter.session.joined"
	TopicSessionVotingStarted = "arbiter.session.voting_started"
	TopicSessionCompleted     = "arbiter.session.completed"
	TopicSessionCancelled     = "arbiter.session.cancelled"
	TopicEvaluationSubmitted  = "arbiter.evaluation.submitted"

	// TopicAll matches every notification.
	TopicAll = "arbiter.>"
)

// SessionCreated is published when a session is first seen on chain.
type SessionCreated struct {
	Session *model.Session `json:"session"`
}

// SessionJoined is published when the challenger joins.
type SessionJoined struct {
	Session    *model.Session `json:"session"`
	Challenger string         `json:"challenger"`
}

// VotingStarted is published when the evaluation period opens.
type VotingStarted struct {
	Session       *model.Session `json:"session"`
	VotingEndTime time.Time      `json:"voting_end_time"`
}

// SessionCompleted is published once a winner is settled.
type SessionCompleted struct {
	Session *model.Session            `json:"session"`
	Outcome *model.Outcome            `json:"outcome,omitempty"`
	Rewards *model.RewardDistribution `json:"rewards,omitempty"`
}

// SessionCancelled is published when a session ends without a winner.
type SessionCancelled struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// EvaluationSubmitted is published after an evaluation is stored.
type EvaluationSubmitted struct {
	Evaluation *model.Evaluation `json:"evaluation"`
}

// Publisher is the interface for emitting notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Emit publishes event and logs a failure instead of returning it.
// Notification delivery never fails the operation that produced it.
func Emit(ctx context.Context, pub Publisher, topic string, event any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, topic, event); err != nil {
		slog.Warn("publish notification failed", "topic", topic, "err", err)
	}
}

// Subscriber receives raw notification payloads, as used by `arb watch`.
type Subscriber interface {
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}
