package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is a periodic checkpoint of a long-running operation, keyed by
// operation id. On restart the executor enumerates them to resume or report
// work that was in flight when the process died; a successful finish clears
// the row.
type Snapshot struct {
	OperationID   string                 `json:"operation_id"`
	OperationType string                 `json:"operation_type"`
	Progress      map[string]interface{} `json:"progress,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// SnapshotStore persists crash-recovery snapshots.
type SnapshotStore struct {
	db    *DB
	clock func() time.Time
}

func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db, clock: time.Now}
}

func (s *SnapshotStore) WithClock(clock func() time.Time) *SnapshotStore {
	s.clock = clock
	return s
}

// Save writes or overwrites the snapshot for an operation.
func (s *SnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	progressJSON, err := json.Marshal(snap.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	_, err = s.db.sql.ExecContext(ctx, `
		INSERT INTO snapshots (operation_id, operation_type, progress, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(operation_id) DO UPDATE SET
			operation_type = excluded.operation_type,
			progress = excluded.progress,
			updated_at = excluded.updated_at`,
		snap.OperationID, snap.OperationType, string(progressJSON), fmtTime(s.clock().UTC()),
	)
	return err
}

// List enumerates every outstanding snapshot, oldest first.
func (s *SnapshotStore) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT operation_id, operation_type, progress, updated_at
		FROM snapshots ORDER BY updated_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		var progressJSON sql.NullString
		var updatedAt string
		if err := rows.Scan(&snap.OperationID, &snap.OperationType, &progressJSON, &updatedAt); err != nil {
			return nil, err
		}
		if snap.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if progressJSON.Valid && progressJSON.String != "" && progressJSON.String != "null" {
			if err := json.Unmarshal([]byte(progressJSON.String), &snap.Progress); err != nil {
				return nil, fmt.Errorf("unmarshal progress: %w", err)
			}
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Clear removes the snapshot once the operation finished cleanly.
func (s *SnapshotStore) Clear(ctx context.Context, operationID string) error {
	_, err := s.db.sql.ExecContext(ctx, `DELETE FROM snapshots WHERE operation_id = ?`, operationID)
	return err
}
