package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// DeadLetterItem is a failed operation parked for manual handling or bulk
// replay. Items stay until removed or successfully retried.
type DeadLetterItem struct {
	OperationID   string                 `json:"operation_id"`
	OperationType string                 `json:"operation_type"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Error         string                 `json:"error"`
	RetryCount    int                    `json:"retry_count"`
	Timestamp     time.Time              `json:"timestamp"`
}

// DeadLetterQueue is the sqlite-backed durable queue.
type DeadLetterQueue struct {
	db    *DB
	clock func() time.Time
}

func NewDeadLetterQueue(db *DB) *DeadLetterQueue {
	return &DeadLetterQueue{db: db, clock: time.Now}
}

func (q *DeadLetterQueue) WithClock(clock func() time.Time) *DeadLetterQueue {
	q.clock = clock
	return q
}

// Add parks a failed operation. Re-adding the same operation id overwrites
// the previous entry with the fresher failure.
func (q *DeadLetterQueue) Add(ctx context.Context, item DeadLetterItem) error {
	if item.Timestamp.IsZero() {
		item.Timestamp = q.clock().UTC()
	}
	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = q.db.sql.ExecContext(ctx, `
		INSERT INTO dead_letters (operation_id, operation_type, payload, error, retry_count, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(operation_id) DO UPDATE SET
			operation_type = excluded.operation_type,
			payload = excluded.payload,
			error = excluded.error,
			retry_count = excluded.retry_count,
			timestamp = excluded.timestamp`,
		item.OperationID, item.OperationType, string(payloadJSON),
		item.Error, item.RetryCount, fmtTime(item.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("add dead letter: %w", err)
	}
	return nil
}

// List returns all parked items, oldest first.
func (q *DeadLetterQueue) List(ctx context.Context) ([]DeadLetterItem, error) {
	rows, err := q.db.sql.QueryContext(ctx, `
		SELECT operation_id, operation_type, payload, error, retry_count, timestamp
		FROM dead_letters ORDER BY timestamp ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []DeadLetterItem
	for rows.Next() {
		var item DeadLetterItem
		var payloadJSON sql.NullString
		var ts string
		if err := rows.Scan(&item.OperationID, &item.OperationType, &payloadJSON, &item.Error, &item.RetryCount, &ts); err != nil {
			return nil, err
		}
		if item.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &item.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Remove deletes a parked item.
func (q *DeadLetterQueue) Remove(ctx context.Context, operationID string) error {
	_, err := q.db.sql.ExecContext(ctx, `DELETE FROM dead_letters WHERE operation_id = ?`, operationID)
	return err
}

// Depth reports the number of parked items.
func (q *DeadLetterQueue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n)
	return n, err
}

// RetryAll replays every parked item through retryFn and removes the ones
// that succeed. Items whose replay fails stay parked with the new error.
func (q *DeadLetterQueue) RetryAll(ctx context.Context, retryFn func(DeadLetterItem) error) (succeeded, failed int, err error) {
	items, err := q.List(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, item := range items {
		if retryErr := retryFn(item); retryErr != nil {
			log.Printf("Dead letter retry failed: %s: %v", item.OperationID, retryErr)
			item.Error = retryErr.Error()
			item.RetryCount++
			if addErr := q.Add(ctx, item); addErr != nil {
				return succeeded, failed, addErr
			}
			failed++
			continue
		}
		if remErr := q.Remove(ctx, item.OperationID); remErr != nil {
			return succeeded, failed, remErr
		}
		succeeded++
	}
	return succeeded, failed, nil
}
