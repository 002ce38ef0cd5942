package model

import (
	"encoding/json"
	"time"
)

// QueueStatus is the processing state of an EventQueueItem.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// String returns the string representation of the status.
func (s QueueStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueCompleted, QueueFailed:
		return true
	}
	return false
}

// DefaultMaxRetries is the retry budget given to new queue items.
const DefaultMaxRetries = 3

// EventQueueItem is a unit of work in the durable event queue.
type EventQueueItem struct {
	ID              string          `json:"id"`
	ContractAddress string          `json:"contract_address"`
	EventName       string          `json:"event_name"`
	Payload         json.RawMessage `json:"payload"`
	Priority        int             `json:"priority"`
	Status          QueueStatus     `json:"status"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ScheduledFor    time.Time       `json:"scheduled_for"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
}

// QueueStats summarizes the queue by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`

	// OldestPendingSecs is the age of the oldest pending item, 0 when none.
	OldestPendingSecs float64 `json:"oldest_pending_secs"`
}
