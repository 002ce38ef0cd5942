// Package idgen generates identifiers for queue items and domain records.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// QueuePrefix marks event queue item IDs.
const QueuePrefix = "evq-"

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	length   = 12
)

// QueueItemID returns a short random ID for an event queue item.
func QueueItemID() (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return QueuePrefix + id, nil
}

// RecordID returns a random UUID for sessions and evaluations.
func RecordID() string {
	return uuid.NewString()
}

// IsRecordID reports whether s parses as a UUID.
func IsRecordID(s string) bool {
	return uuid.Validate(s) == nil
}
