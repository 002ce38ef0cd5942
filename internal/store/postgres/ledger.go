package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/groblegark/arbiter/internal/model"
)

const eventLogColumns = `id, contract_address, event_name, transaction_hash,
	block_number, log_index, processed_at`

const eventErrorColumns = `id, contract_address, event_name, transaction_hash,
	block_number, log_index, error_message, created_at, resolved_at`

// --- Checkpoints ---

func queryGetCheckpoint(ctx context.Context, db executor, contract string) (*model.EventCheckpoint, error) {
	row := db.QueryRowContext(ctx, `
		SELECT contract_address, last_processed_block, last_updated
		FROM event_checkpoints WHERE contract_address = $1`, contract)
	return scanCheckpoint(row)
}

// queryCreateCheckpoint inserts the initial cursor for a contract. An
// existing cursor is left untouched.
func queryCreateCheckpoint(ctx context.Context, db executor, contract string, block uint64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO event_checkpoints (contract_address, last_processed_block, last_updated)
		VALUES ($1, $2, NOW())
		ON CONFLICT (contract_address) DO NOTHING`, contract, int64(block))
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	return nil
}

func queryAdvanceCheckpoint(ctx context.Context, db executor, contract string, block uint64) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE event_checkpoints
		SET last_processed_block = $1, last_updated = NOW()
		WHERE contract_address = $2 AND last_processed_block <= $1`, int64(block), contract)
	if err != nil {
		return false, fmt.Errorf("advance checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func queryListCheckpoints(ctx context.Context, db executor) ([]*model.EventCheckpoint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT contract_address, last_processed_block, last_updated
		FROM event_checkpoints ORDER BY contract_address`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return scanAll(rows, scanCheckpoint)
}

// --- Event log ---

func queryHasEventLog(ctx context.Context, db executor, txHash string, logIndex int) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM event_logs WHERE transaction_hash = $1 AND log_index = $2
		)`, txHash, logIndex).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event log: %w", err)
	}
	return exists, nil
}

func queryRecordEventLog(ctx context.Context, db executor, entry *model.EventLogEntry) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO event_logs (contract_address, event_name, transaction_hash, block_number, log_index)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, processed_at`,
		entry.ContractAddress,
		entry.EventName,
		entry.TransactionHash,
		int64(entry.BlockNumber),
		entry.LogIndex,
	).Scan(&entry.ID, &entry.ProcessedAt)
	if err != nil {
		return fmt.Errorf("record event log: %w", mapUniqueViolation(err))
	}
	return nil
}

func queryRecordEventError(ctx context.Context, db executor, e *model.EventError) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO event_errors (
			contract_address, event_name, transaction_hash, block_number, log_index, error_message
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		e.ContractAddress,
		e.EventName,
		e.TransactionHash,
		int64(e.BlockNumber),
		e.LogIndex,
		e.ErrorMessage,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record event error: %w", err)
	}
	return nil
}

// buildLogFilter renders the WHERE, ORDER BY and paging clauses shared by
// the log and error listings.
func buildLogFilter(f model.EventLogFilter, unresolvedOnly bool, orderBy string) (string, []any) {
	var (
		clauses []string
		args    []any
		argIdx  = 1
	)
	if f.ContractAddress != "" {
		clauses = append(clauses, fmt.Sprintf("contract_address = $%d", argIdx))
		args = append(args, f.ContractAddress)
		argIdx++
	}
	if f.EventName != "" {
		clauses = append(clauses, fmt.Sprintf("event_name = $%d", argIdx))
		args = append(args, f.EventName)
		argIdx++
	}
	if unresolvedOnly && f.Unresolved {
		clauses = append(clauses, "resolved_at IS NULL")
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	where += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, argIdx, argIdx+1)
	args = append(args, limit, max(f.Offset, 0))
	return where, args
}

func queryListEventLogs(ctx context.Context, db executor, filter model.EventLogFilter) ([]*model.EventLogEntry, error) {
	clause, args := buildLogFilter(filter, false, "block_number DESC, log_index DESC")
	rows, err := db.QueryContext(ctx, `SELECT `+eventLogColumns+` FROM event_logs`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list event logs: %w", err)
	}
	return scanAll(rows, scanEventLog)
}

func queryListEventErrors(ctx context.Context, db executor, filter model.EventLogFilter) ([]*model.EventError, error) {
	clause, args := buildLogFilter(filter, true, "created_at DESC")
	rows, err := db.QueryContext(ctx, `SELECT `+eventErrorColumns+` FROM event_errors`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list event errors: %w", err)
	}
	return scanAll(rows, scanEventError)
}

func queryResolveEventError(ctx context.Context, db executor, id int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE event_errors SET resolved_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("resolve event error: %w", err)
	}
	return requireRow(res)
}

func querySummarizeEventErrors(ctx context.Context, db executor, since time.Time) ([]*model.ErrorSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT event_name, COUNT(*), MAX(created_at)
		FROM event_errors
		WHERE resolved_at IS NULL AND created_at > $1
		GROUP BY event_name
		ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("summarize event errors: %w", err)
	}
	defer rows.Close()

	var out []*model.ErrorSummary
	for rows.Next() {
		var s model.ErrorSummary
		if err := rows.Scan(&s.EventName, &s.Count, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("scan error summary: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
