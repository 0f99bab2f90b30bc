package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
)

var (
	// ErrNotFound - no record with that id.
	ErrNotFound = errors.New("store: record not found")

	// ErrIllegalTransition - the requested edge is not in the transition table.
	ErrIllegalTransition = errors.New("store: illegal status transition")

	// ErrConflict - the compare-and-swap lost; somebody moved the record first.
	ErrConflict = errors.New("store: transition conflict")
)

// RecordStore persists ActionRecords. The status column plus the version
// column replace the old one-directory-per-status layout: a transition is an
// UPDATE guarded by both, so exactly one writer wins any race.
type RecordStore struct {
	db    *DB
	clock func() time.Time
}

func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *RecordStore) WithClock(clock func() time.Time) *RecordStore {
	s.clock = clock
	return s
}

// Create persists a new record. Status defaults to pending and version to 1.
func (s *RecordStore) Create(ctx context.Context, rec *models.ActionRecord) error {
	now := s.clock().UTC()
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version = 1

	if err := rec.Validate(); err != nil {
		return err
	}

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.sql.ExecContext(ctx, `
		INSERT INTO action_records (
			id, action_type, status, created_at, updated_at, timeout_at,
			risk_score, risk_level, retry_count, payload, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		rec.ID, rec.ActionType, rec.Status,
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt), fmtNullableTime(rec.TimeoutAt),
		rec.RiskScore, rec.RiskLevel, rec.RetryCount, string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get fetches a single record by id.
func (s *RecordStore) Get(ctx context.Context, id string) (*models.ActionRecord, error) {
	row := s.db.sql.QueryRowContext(ctx, recordSelect+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListByStatus returns every record currently in the given status, oldest
// first. This is the sweep order for pollers.
func (s *RecordStore) ListByStatus(ctx context.Context, status string) ([]*models.ActionRecord, error) {
	rows, err := s.db.sql.QueryContext(ctx, recordSelect+` WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.ActionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByStatus reports how many records sit in each status.
func (s *RecordStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT status, COUNT(*) FROM action_records GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// StageDecision records an operator decision on a still-pending record
// without transitioning it; the approval poller applies it on its next pass.
func (s *RecordStore) StageDecision(ctx context.Context, id, decision, decidedBy, reason string) error {
	res, err := s.db.sql.ExecContext(ctx, `
		UPDATE action_records
		SET decision = ?, decided_by = ?, reason = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ?`,
		decision, decidedBy, reason, fmtTime(s.clock().UTC()), id, models.StatusPending,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s is not pending", ErrConflict, id)
	}
	return nil
}

// Update carries the fields a transition may stamp onto the record.
type Update struct {
	Reason     string
	Error      string
	Result     map[string]interface{}
	RetryCount *int
}

// Transition atomically moves rec from its current status to the target
// status, guarded by the version the caller read. The legal-edge table is
// checked first; losing the compare-and-swap to a writer that already made
// the same move is a no-op, losing it to anything else is ErrConflict.
func (s *RecordStore) Transition(ctx context.Context, rec *models.ActionRecord, to string, up Update) error {
	if !models.TransitionAllowed(rec.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, rec.Status, to)
	}

	now := s.clock().UTC()
	query := `UPDATE action_records SET status = ?, updated_at = ?, version = version + 1`
	args := []interface{}{to, fmtTime(now)}

	switch to {
	case models.StatusApproved:
		query += `, approved_at = ?`
		args = append(args, fmtTime(now))
	case models.StatusRejected, models.StatusTimeout:
		query += `, rejected_at = ?`
		args = append(args, fmtTime(now))
	}
	if up.Reason != "" {
		query += `, reason = ?`
		args = append(args, up.Reason)
	}
	if up.Error != "" {
		query += `, error = ?`
		args = append(args, up.Error)
	}
	if up.Result != nil {
		resultJSON, err := json.Marshal(up.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		query += `, result = ?`
		args = append(args, string(resultJSON))
	}
	if up.RetryCount != nil {
		query += `, retry_count = ?`
		args = append(args, *up.RetryCount)
	}

	query += ` WHERE id = ? AND status = ? AND version = ?`
	args = append(args, rec.ID, rec.Status, rec.Version)

	res, err := s.db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		current, getErr := s.Get(ctx, rec.ID)
		if getErr != nil {
			return getErr
		}
		if current.Status == to {
			// Someone already made this exact move; pollers rely on this
			// being a no-op.
			*rec = *current
			return nil
		}
		return fmt.Errorf("%w: %s is %s (v%d), expected %s (v%d)",
			ErrConflict, rec.ID, current.Status, current.Version, rec.Status, rec.Version)
	}

	rec.Status = to
	rec.UpdatedAt = now
	rec.Version++
	switch to {
	case models.StatusApproved:
		rec.ApprovedAt = &now
	case models.StatusRejected, models.StatusTimeout:
		rec.RejectedAt = &now
	}
	if up.Reason != "" {
		rec.Reason = up.Reason
	}
	if up.Error != "" {
		rec.Error = up.Error
	}
	if up.Result != nil {
		rec.Result = up.Result
	}
	if up.RetryCount != nil {
		rec.RetryCount = *up.RetryCount
	}
	return nil
}

const recordSelect = `
	SELECT id, action_type, status, created_at, updated_at, timeout_at,
	       risk_score, risk_level, retry_count, payload, decision, decided_by,
	       approved_at, rejected_at, result, error, reason, version
	FROM action_records`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.ActionRecord, error) {
	var rec models.ActionRecord
	var createdAt, updatedAt string
	var timeoutAt, approvedAt, rejectedAt sql.NullString
	var payloadJSON, resultJSON sql.NullString

	err := row.Scan(
		&rec.ID, &rec.ActionType, &rec.Status, &createdAt, &updatedAt, &timeoutAt,
		&rec.RiskScore, &rec.RiskLevel, &rec.RetryCount, &payloadJSON,
		&rec.Decision, &rec.DecidedBy, &approvedAt, &rejectedAt,
		&resultJSON, &rec.Error, &rec.Reason, &rec.Version,
	)
	if err != nil {
		return nil, err
	}

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if t, ok, err := parseNullableTime(timeoutAt); err != nil {
		return nil, err
	} else if ok {
		rec.TimeoutAt = t
	}
	if t, ok, err := parseNullableTime(approvedAt); err != nil {
		return nil, err
	} else if ok {
		rec.ApprovedAt = &t
	}
	if t, ok, err := parseNullableTime(rejectedAt); err != nil {
		return nil, err
	} else if ok {
		rec.RejectedAt = &t
	}
	if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &rec.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" && resultJSON.String != "null" {
		if err := json.Unmarshal([]byte(resultJSON.String), &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &rec, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtNullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullableTime(ns sql.NullString) (time.Time, bool, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, false, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
