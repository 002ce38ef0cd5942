package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/groblegark/arbiter/internal/events"
	"github.com/groblegark/arbiter/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

// notificationTopics are the topics arb watch follows.
var notificationTopics = []string{
	events.TopicSessionCreated,
	events.TopicSessionJoined,
	events.TopicSessionVotingStarted,
	events.TopicSessionCompleted,
	events.TopicSessionCancelled,
	events.TopicEvaluationSubmitted,
}

type notification struct {
	Topic   string          `json:"topic"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream session and evaluation notifications from NATS",
	GroupID: "ingest",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		if natsURL == "" {
			return fmt.Errorf("no NATS URL (set --nats-url or ARBITER_NATS_URL)")
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return watchNotifications(ctx, natsURL, func(n notification) {
			if jsonOutput {
				data, _ := json.Marshal(n)
				fmt.Println(string(data))
				return
			}
			fmt.Printf("%s %s %s\n", ui.RenderMuted(n.At.Format("15:04:05")), ui.RenderAccent(n.Topic), summarize(n.Payload))
		})
	},
}

// watchNotifications subscribes to every notification topic and calls fn
// for each message until ctx is done.
func watchNotifications(ctx context.Context, natsURL string, fn func(notification)) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	merged := make(chan notification, 64)
	for _, topic := range notificationTopics {
		ch, cancel, err := sub.Subscribe(topic)
		if err != nil {
			return fmt.Errorf("subscribing to events: %w", err)
		}
		defer cancel()
		go func() {
			for data := range ch {
				select {
				case merged <- notification{Topic: topic, At: time.Now(), Payload: data}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-merged:
			fn(n)
		}
	}
}

// summarize picks the identifying fields out of a notification payload.
func summarize(payload json.RawMessage) string {
	var p struct {
		Session *struct {
			ID     string `json:"id"`
			Topic  string `json:"topic"`
			Status string `json:"status"`
		} `json:"session"`
		Evaluation *struct {
			SessionID string `json:"session_id"`
			Evaluator string `json:"evaluator_address"`
			Weight    int    `json:"weight"`
		} `json:"evaluation"`
		SessionID string `json:"session_id"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return string(payload)
	}
	switch {
	case p.Session != nil:
		return fmt.Sprintf("%s %s %q", p.Session.ID, ui.RenderStatus(p.Session.Status), p.Session.Topic)
	case p.Evaluation != nil:
		return fmt.Sprintf("%s by %s (weight %d)", p.Evaluation.SessionID, p.Evaluation.Evaluator, p.Evaluation.Weight)
	case p.SessionID != "":
		return fmt.Sprintf("%s %s", p.SessionID, p.Reason)
	}
	return string(payload)
}

func init() {
	watchCmd.Flags().String("nats-url", os.Getenv("ARBITER_NATS_URL"), "NATS server URL")
}
