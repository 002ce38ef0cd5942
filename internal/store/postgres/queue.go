package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/groblegark/arbiter/internal/model"
)

// queueColumns is the column list used for SELECT and RETURNING on event_queue.
const queueColumns = `id, contract_address, event_name, event_data, priority,
	status, retry_count, max_retries, error_message, scheduled_for,
	created_at, updated_at, processed_at`

func queryEnqueueEvent(ctx context.Context, db executor, item *model.EventQueueItem) error {
	maxRetries := item.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	scheduled := item.ScheduledFor
	if scheduled.IsZero() {
		scheduled = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO event_queue (
			id, contract_address, event_name, event_data, priority,
			status, retry_count, max_retries, scheduled_for
		) VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $7)`,
		item.ID,
		item.ContractAddress,
		item.EventName,
		[]byte(item.Payload),
		item.Priority,
		maxRetries,
		scheduled,
	)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	item.Status = model.QueuePending
	item.MaxRetries = maxRetries
	item.ScheduledFor = scheduled
	return nil
}

// queryClaimNextEvent atomically moves the highest priority due item to
// processing. Concurrent claimers skip rows locked by each other.
func queryClaimNextEvent(ctx context.Context, db executor) (*model.EventQueueItem, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE event_queue SET status = 'processing', updated_at = NOW()
		WHERE id = (
			SELECT id FROM event_queue
			WHERE status = 'pending' AND scheduled_for <= NOW()
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim event: %w", err)
	}
	return item, nil
}

func queryCompleteEvent(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE event_queue
		SET status = 'completed', error_message = NULL, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete event: %w", err)
	}
	return requireRow(res)
}

// queryFailEvent bumps the retry count of a processing item. Items that
// exhaust their retries become failed; the rest are rescheduled after an
// exponential backoff of 2^retry minutes capped at maxBackoff.
func queryFailEvent(ctx context.Context, db executor, id, message string, maxBackoff time.Duration) (*model.EventQueueItem, error) {
	capMinutes := math.Max(maxBackoff.Minutes(), 1)
	row := db.QueryRowContext(ctx, `
		UPDATE event_queue SET
			retry_count = retry_count + 1,
			error_message = $2,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			scheduled_for = CASE
				WHEN retry_count + 1 >= max_retries THEN scheduled_for
				ELSE NOW() + LEAST(POWER(2, retry_count + 1), $3) * INTERVAL '1 minute'
			END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING `+queueColumns,
		id, message, capMinutes,
	)
	item, err := scanQueueItem(row)
	if err != nil {
		return nil, fmt.Errorf("fail event: %w", err)
	}
	return item, nil
}

func queryGetQueueItem(ctx context.Context, db executor, id string) (*model.EventQueueItem, error) {
	row := db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM event_queue WHERE id = $1`, id)
	return scanQueueItem(row)
}

func queryListFailedEvents(ctx context.Context, db executor, limit int) ([]*model.EventQueueItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+queueColumns+` FROM event_queue
		WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed events: %w", err)
	}
	return scanAll(rows, scanQueueItem)
}

// queryRetryFailedEvent puts a failed item back in the queue with a fresh
// retry budget.
func queryRetryFailedEvent(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE event_queue SET
			status = 'pending',
			retry_count = 0,
			error_message = NULL,
			scheduled_for = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("retry event: %w", err)
	}
	return requireRow(res)
}

func queryPurgeCompletedEvents(ctx context.Context, db executor, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM event_queue
		WHERE status = 'completed' AND processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}

// queryResetStuckEvents returns processing items untouched since before to
// pending. Their worker is presumed dead.
func queryResetStuckEvents(ctx context.Context, db executor, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE event_queue SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("reset stuck events: %w", err)
	}
	return res.RowsAffected()
}

func queryQueueStats(ctx context.Context, db executor) (*model.QueueStats, error) {
	var st model.QueueStats
	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*),
			COALESCE(EXTRACT(EPOCH FROM NOW() - MIN(created_at) FILTER (WHERE status = 'pending')), 0)::float8
		FROM event_queue`,
	).Scan(&st.Pending, &st.Processing, &st.Completed, &st.Failed, &st.Total, &st.OldestPendingSecs)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &st, nil
}

// requireRow maps an update that touched nothing to sql.ErrNoRows.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
