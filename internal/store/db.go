// Package store persists every durable structure the pipeline coordinates
// through: action records, dead-letter items, recovery snapshots, schedule
// entries and the supervisor's process table. Everything lives in one
// embedded sqlite database so a transition is a transactional row update
// rather than a filesystem rename.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the pipeline database under workspaceRoot
// and runs migrations.
func Open(workspaceRoot string) (*DB, error) {
	path := filepath.Join(workspaceRoot, "pipeline.db")
	return OpenPath(path)
}

// OpenPath opens a database at an explicit path. Used by tests.
func OpenPath(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite handles one writer at a time; a bigger pool just queues on the
	// file lock.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sql: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	log.Printf("Store opened: %s", path)
	return db, nil
}

// DB wraps the sqlite handle shared by the typed stores.
type DB struct {
	sql *sql.DB
}

func (d *DB) Close() error { return d.sql.Close() }

// Ping verifies the database is reachable. Used by health checks.
func (d *DB) Ping(ctx context.Context) error { return d.sql.PingContext(ctx) }

func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS action_records (
			id TEXT PRIMARY KEY,
			action_type TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			timeout_at DATETIME,
			risk_score INTEGER NOT NULL DEFAULT 0,
			risk_level TEXT NOT NULL DEFAULT 'low',
			retry_count INTEGER NOT NULL DEFAULT 0,
			payload JSON,
			decision TEXT NOT NULL DEFAULT '',
			decided_by TEXT NOT NULL DEFAULT '',
			approved_at DATETIME,
			rejected_at DATETIME,
			result JSON,
			error TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_status ON action_records(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			operation_id TEXT PRIMARY KEY,
			operation_type TEXT NOT NULL,
			payload JSON,
			error TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			operation_id TEXT PRIMARY KEY,
			operation_type TEXT NOT NULL,
			progress JSON,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schedule_entries (
			task_id TEXT PRIMARY KEY,
			schedule_type TEXT NOT NULL,
			schedule_config JSON,
			enabled INTEGER NOT NULL DEFAULT 1,
			run_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			next_run DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS processes (
			name TEXT PRIMARY KEY,
			pid INTEGER NOT NULL DEFAULT 0,
			last_status TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		)`,
	}

	ctx := context.Background()
	for _, stmt := range stmts {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
