package model

import "time"

// EventCheckpoint is the last block fully processed for a contract.
type EventCheckpoint struct {
	ContractAddress    string    `json:"contract_address"`
	LastProcessedBlock uint64    `json:"last_processed_block"`
	LastUpdated        time.Time `json:"last_updated"`
}

// EventLogEntry records that a chain log has been applied. It is unique on
// (TransactionHash, LogIndex).
type EventLogEntry struct {
	ID              int64     `json:"id"`
	ContractAddress string    `json:"contract_address"`
	EventName       string    `json:"event_name"`
	TransactionHash string    `json:"transaction_hash"`
	BlockNumber     uint64    `json:"block_number"`
	LogIndex        int       `json:"log_index"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// EventError records a failed attempt to apply a chain log.
type EventError struct {
	ID              int64      `json:"id"`
	ContractAddress string     `json:"contract_address"`
	EventName       string     `json:"event_name"`
	TransactionHash string     `json:"transaction_hash"`
	BlockNumber     uint64     `json:"block_number"`
	LogIndex        int        `json:"log_index"`
	ErrorMessage    string     `json:"error_message"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// ErrorSummary counts unresolved errors for one event name.
type ErrorSummary struct {
	EventName string    `json:"event_name"`
	Count     int       `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
}

// EventLogFilter narrows event log and error listings.
type EventLogFilter struct {
	ContractAddress string
	EventName       string
	Unresolved      bool // errors only
	Limit           int
	Offset          int
}
