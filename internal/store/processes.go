package store

import (
	"context"
	"database/sql"
	"time"
)

// ProcessRecord is the minimal persisted state for one supervised process:
// the last observed PID and status, so a restarted supervisor can re-attach
// to children that are still alive.
type ProcessRecord struct {
	Name       string
	PID        int
	LastStatus string
	UpdatedAt  time.Time
}

// ProcessStore persists the supervisor's process table.
type ProcessStore struct {
	db    *DB
	clock func() time.Time
}

func NewProcessStore(db *DB) *ProcessStore {
	return &ProcessStore{db: db, clock: time.Now}
}

func (s *ProcessStore) WithClock(clock func() time.Time) *ProcessStore {
	s.clock = clock
	return s
}

// Record writes the latest observation for a named process.
func (s *ProcessStore) Record(ctx context.Context, rec ProcessRecord) error {
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO processes (name, pid, last_status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			pid = excluded.pid,
			last_status = excluded.last_status,
			updated_at = excluded.updated_at`,
		rec.Name, rec.PID, rec.LastStatus, fmtTime(s.clock().UTC()),
	)
	return err
}

// GetByName returns the stored observation for name, or ErrNotFound.
func (s *ProcessStore) GetByName(ctx context.Context, name string) (ProcessRecord, error) {
	var rec ProcessRecord
	var updatedAt string
	err := s.db.sql.QueryRowContext(ctx, `
		SELECT name, pid, last_status, updated_at FROM processes WHERE name = ?`, name,
	).Scan(&rec.Name, &rec.PID, &rec.LastStatus, &updatedAt)
	if err == sql.ErrNoRows {
		return ProcessRecord{}, ErrNotFound
	}
	if err != nil {
		return ProcessRecord{}, err
	}
	rec.UpdatedAt, err = parseTime(updatedAt)
	return rec, err
}

// List returns every stored process observation, ordered by name.
func (s *ProcessStore) List(ctx context.Context) ([]ProcessRecord, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT name, pid, last_status, updated_at FROM processes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ProcessRecord
	for rows.Next() {
		var rec ProcessRecord
		var updatedAt string
		if err := rows.Scan(&rec.Name, &rec.PID, &rec.LastStatus, &updatedAt); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete removes a process row.
func (s *ProcessStore) Delete(ctx context.Context, name string) error {
	_, err := s.db.sql.ExecContext(ctx, `DELETE FROM processes WHERE name = ?`, name)
	return err
}
