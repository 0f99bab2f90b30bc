// Package ingest polls an external signal source, suppresses duplicates by
// fingerprint, and turns what remains into pending action records.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
)

var (
	// ErrNotConnected - Connect() not called or failed.
	ErrNotConnected = errors.New("source: not connected")

	// ErrUnsupportedSource - the configured source kind has no adapter.
	ErrUnsupportedSource = errors.New("source: unsupported source type")
)

// Source is one external signal feed. Poll returns a batch of normalized
// signals and marks them consumed so the next poll does not see them again.
type Source interface {
	Connect(ctx context.Context) error
	Poll(ctx context.Context) ([]models.Signal, error)
	HealthCheck(ctx context.Context) error
	Close() error
	Name() string
}

// NewSource builds the adapter for the configured source kind.
func NewSource(kind, dsn string) (Source, error) {
	switch kind {
	case "postgres", "postgresql":
		return NewPostgresSource(dsn), nil
	case "mysql":
		return NewMySQLSource(dsn), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, kind)
	}
}

const pollBatchSize = 50

// PostgresSource reads unconsumed rows from a Postgres signals table.
type PostgresSource struct {
	dsn  string
	pool *pgxpool.Pool
}

func NewPostgresSource(dsn string) *PostgresSource {
	return &PostgresSource{dsn: dsn}
}

func (s *PostgresSource) Name() string { return "postgres" }

func (s *PostgresSource) Connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.pool = pool
	return nil
}

func (s *PostgresSource) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return ErrNotConnected
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (s *PostgresSource) Poll(ctx context.Context) ([]models.Signal, error) {
	if s.pool == nil {
		return nil, ErrNotConnected
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, origin, topic, created_at, content, action_type, payload
		FROM signals
		WHERE consumed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, pollBatchSize)
	if err != nil {
		return nil, fmt.Errorf("poll signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	var ids []int64
	for rows.Next() {
		var id int64
		var sig models.Signal
		var payloadJSON []byte
		if err := rows.Scan(&id, &sig.Origin, &sig.Topic, &sig.Timestamp, &sig.Content, &sig.ActionType, &payloadJSON); err != nil {
			return nil, err
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &sig.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal signal payload: %w", err)
			}
		}
		signals = append(signals, sig)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		if _, err := s.pool.Exec(ctx, `UPDATE signals SET consumed_at = now() WHERE id = ANY($1)`, ids); err != nil {
			return nil, fmt.Errorf("mark signals consumed: %w", err)
		}
	}
	return signals, nil
}

func (s *PostgresSource) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

// MySQLSource is the MySQL variant of the same signals table.
type MySQLSource struct {
	dsn string
	db  *sql.DB
}

func NewMySQLSource(dsn string) *MySQLSource {
	return &MySQLSource{dsn: dsn}
}

func (s *MySQLSource) Name() string { return "mysql" }

func (s *MySQLSource) Connect(ctx context.Context) error {
	db, err := sql.Open("mysql", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.db = db
	return nil
}

func (s *MySQLSource) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return ErrNotConnected
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (s *MySQLSource) Poll(ctx context.Context) ([]models.Signal, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, origin, topic, created_at, content, action_type, payload
		FROM signals
		WHERE consumed_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?`, pollBatchSize)
	if err != nil {
		return nil, fmt.Errorf("poll signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	var ids []interface{}
	for rows.Next() {
		var id int64
		var sig models.Signal
		var payloadJSON sql.NullString
		if err := rows.Scan(&id, &sig.Origin, &sig.Topic, &sig.Timestamp, &sig.Content, &sig.ActionType, &payloadJSON); err != nil {
			return nil, err
		}
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &sig.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal signal payload: %w", err)
			}
		}
		signals = append(signals, sig)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `UPDATE signals SET consumed_at = NOW() WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("mark signal consumed: %w", err)
		}
	}
	return signals, nil
}

func (s *MySQLSource) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
