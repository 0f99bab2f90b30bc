package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduleEntry is the persisted half of a scheduled task: counters and the
// computed next run survive restarts, the function itself is re-registered
// by the scheduler at boot.
type ScheduleEntry struct {
	TaskID         string                 `json:"task_id"`
	ScheduleType   string                 `json:"schedule_type"`
	ScheduleConfig map[string]interface{} `json:"schedule_config,omitempty"`
	Enabled        bool                   `json:"enabled"`
	RunCount       int                    `json:"run_count"`
	ErrorCount     int                    `json:"error_count"`
	NextRun        time.Time              `json:"next_run"`
}

// ScheduleStore persists schedule entries.
type ScheduleStore struct {
	db *DB
}

func NewScheduleStore(db *DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Upsert writes an entry, preserving nothing from any previous row.
func (s *ScheduleStore) Upsert(ctx context.Context, e ScheduleEntry) error {
	configJSON, err := json.Marshal(e.ScheduleConfig)
	if err != nil {
		return fmt.Errorf("marshal schedule config: %w", err)
	}

	_, err = s.db.sql.ExecContext(ctx, `
		INSERT INTO schedule_entries (task_id, schedule_type, schedule_config, enabled, run_count, error_count, next_run)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			schedule_type = excluded.schedule_type,
			schedule_config = excluded.schedule_config,
			enabled = excluded.enabled,
			run_count = excluded.run_count,
			error_count = excluded.error_count,
			next_run = excluded.next_run`,
		e.TaskID, e.ScheduleType, string(configJSON), boolToInt(e.Enabled),
		e.RunCount, e.ErrorCount, fmtNullableTime(e.NextRun),
	)
	return err
}

// Get returns the stored entry for a task, or ErrNotFound.
func (s *ScheduleStore) Get(ctx context.Context, taskID string) (*ScheduleEntry, error) {
	row := s.db.sql.QueryRowContext(ctx, `
		SELECT task_id, schedule_type, schedule_config, enabled, run_count, error_count, next_run
		FROM schedule_entries WHERE task_id = ?`, taskID)
	e, err := scanScheduleEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

// List returns all stored entries.
func (s *ScheduleStore) List(ctx context.Context) ([]*ScheduleEntry, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT task_id, schedule_type, schedule_config, enabled, run_count, error_count, next_run
		FROM schedule_entries ORDER BY task_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*ScheduleEntry
	for rows.Next() {
		e, err := scanScheduleEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a task's entry.
func (s *ScheduleStore) Delete(ctx context.Context, taskID string) error {
	_, err := s.db.sql.ExecContext(ctx, `DELETE FROM schedule_entries WHERE task_id = ?`, taskID)
	return err
}

func scanScheduleEntry(row rowScanner) (*ScheduleEntry, error) {
	var e ScheduleEntry
	var configJSON sql.NullString
	var enabled int
	var nextRun sql.NullString

	err := row.Scan(&e.TaskID, &e.ScheduleType, &configJSON, &enabled, &e.RunCount, &e.ErrorCount, &nextRun)
	if err != nil {
		return nil, err
	}
	e.Enabled = enabled != 0
	if t, ok, err := parseNullableTime(nextRun); err != nil {
		return nil, err
	} else if ok {
		e.NextRun = t
	}
	if configJSON.Valid && configJSON.String != "" && configJSON.String != "null" {
		if err := json.Unmarshal([]byte(configJSON.String), &e.ScheduleConfig); err != nil {
			return nil, fmt.Errorf("unmarshal schedule config: %w", err)
		}
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
