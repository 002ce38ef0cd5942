package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/groblegark/arbiter/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanSession scans a single row into a model.Session.
// The row must contain columns in the order defined by sessionColumns.
func scanSession(row scannable) (*model.Session, error) {
	var s model.Session
	var (
		description     sql.NullString
		challenger      sql.NullString
		startTime       sql.NullTime
		votingStartTime sql.NullTime
		votingEndTime   sql.NullTime
		endTime         sql.NullTime
		winner          sql.NullString
		metadata        []byte
	)

	err := row.Scan(
		&s.ID,
		&s.Address,
		&s.Topic,
		&description,
		&s.InitiatorAddress,
		&challenger,
		&s.WagerAmount,
		&s.Status,
		&startTime,
		&votingStartTime,
		&votingEndTime,
		&endTime,
		&winner,
		&s.InitiatorVotes,
		&s.ChallengerVotes,
		&metadata,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Description = description.String
	s.ChallengerAddress = challenger.String
	s.WinnerAddress = winner.String
	s.StartTime = timePtr(startTime)
	s.VotingStartTime = timePtr(votingStartTime)
	s.VotingEndTime = timePtr(votingEndTime)
	s.EndTime = timePtr(endTime)
	if len(metadata) > 0 {
		s.Metadata = json.RawMessage(metadata)
	}

	return &s, nil
}

// scanEvaluation scans a single row into a model.Evaluation.
// The row must contain columns in the order defined by evaluationColumns.
func scanEvaluation(row scannable) (*model.Evaluation, error) {
	var e model.Evaluation
	if err := row.Scan(
		&e.ID,
		&e.SessionID,
		&e.EvaluatorAddress,
		&e.Vote,
		&e.Weight,
		&e.Confidence,
		&e.Reasoning,
		&e.QualityScore,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

// scanQueueItem scans a single row into a model.EventQueueItem.
// The row must contain columns in the order defined by queueColumns.
func scanQueueItem(row scannable) (*model.EventQueueItem, error) {
	var q model.EventQueueItem
	var (
		payload     []byte
		errMsg      sql.NullString
		processedAt sql.NullTime
	)
	if err := row.Scan(
		&q.ID,
		&q.ContractAddress,
		&q.EventName,
		&payload,
		&q.Priority,
		&q.Status,
		&q.RetryCount,
		&q.MaxRetries,
		&errMsg,
		&q.ScheduledFor,
		&q.CreatedAt,
		&q.UpdatedAt,
		&processedAt,
	); err != nil {
		return nil, err
	}
	q.Payload = json.RawMessage(payload)
	q.ErrorMessage = errMsg.String
	q.ProcessedAt = timePtr(processedAt)
	return &q, nil
}

func scanCheckpoint(row scannable) (*model.EventCheckpoint, error) {
	var c model.EventCheckpoint
	if err := row.Scan(&c.ContractAddress, &c.LastProcessedBlock, &c.LastUpdated); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanEventLog(row scannable) (*model.EventLogEntry, error) {
	var l model.EventLogEntry
	if err := row.Scan(
		&l.ID,
		&l.ContractAddress,
		&l.EventName,
		&l.TransactionHash,
		&l.BlockNumber,
		&l.LogIndex,
		&l.ProcessedAt,
	); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanEventError(row scannable) (*model.EventError, error) {
	var e model.EventError
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&e.ID,
		&e.ContractAddress,
		&e.EventName,
		&e.TransactionHash,
		&e.BlockNumber,
		&e.LogIndex,
		&e.ErrorMessage,
		&e.CreatedAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}
	e.ResolvedAt = timePtr(resolvedAt)
	return &e, nil
}

// scanAll drains rows with scan and checks rows.Err.
func scanAll[T any](rows *sql.Rows, scan func(scannable) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// timePtr converts a sql.NullTime to a *time.Time.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
