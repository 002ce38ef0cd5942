// Package archive periodically exports finalized sessions as JSONL.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	SessionCount int       `json:"session_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Entry is one archived session with its evaluations.
type Entry struct {
	Session     *model.Session      `json:"session"`
	Outcome     json.RawMessage     `json:"outcome,omitempty"`
	Rewards     json.RawMessage     `json:"rewards,omitempty"`
	Reason      string              `json:"cancellation_reason,omitempty"`
	Evaluations []*model.Evaluation `json:"evaluations"`
}

// ExportJSONL writes every session finalized after since, oldest ID first,
// with its evaluations embedded. Outcome and rewards are lifted out of the
// session metadata.
func ExportJSONL(ctx context.Context, s store.Store, since time.Time, w io.Writer) (int, error) {
	sessions, err := s.ListFinalizedSessions(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list finalized sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID < sessions[j].ID
	})

	entries := make([]*Entry, 0, len(sessions))
	for _, sess := range sessions {
		evals, err := s.ListEvaluations(ctx, sess.ID)
		if err != nil {
			return 0, fmt.Errorf("list evaluations for %s: %w", sess.ID, err)
		}
		e := &Entry{Session: sess, Evaluations: evals}
		var meta map[string]json.RawMessage
		if len(sess.Metadata) > 0 && json.Unmarshal(sess.Metadata, &meta) == nil {
			e.Outcome = meta["outcome"]
			e.Rewards = meta["rewards"]
			if r, ok := meta["cancellationReason"]; ok {
				_ = json.Unmarshal(r, &e.Reason)
			}
		}
		entries = append(entries, e)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		SessionCount: len(entries),
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}
	for _, e := range entries {
		if err := enc.Encode(record{Type: "session", Data: e}); err != nil {
			return 0, fmt.Errorf("encode session %s: %w", e.Session.ID, err)
		}
	}
	return len(entries), nil
}
