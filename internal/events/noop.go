package events

import (
	"context"
	"sync"
)

// NoopPublisher discards notifications. It is used when NATS is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (NoopPublisher) Close() error { return nil }

// Recorder is a Publisher that keeps every notification in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded is one notification captured by a Recorder.
type Recorded struct {
	Topic string
	Event any
}

func (r *Recorder) Publish(_ context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Topic: topic, Event: event})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Topics returns the topics published so far, in order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Topic
	}
	return out
}

// Events returns the notifications published so far, in order.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}
