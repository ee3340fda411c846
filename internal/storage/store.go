package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"nightwatch/internal/logger"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateAlert is returned when an alert insert loses to an
	// existing row with the same dedup key.
	ErrDuplicateAlert = errors.New("duplicate alert")
	// ErrDuplicateEvent is returned when an event id was already
	// persisted, which is expected under at-least-once delivery.
	ErrDuplicateEvent = errors.New("duplicate event")
)

// Store is the SQLite-backed durable store for events, alerts and
// campaigns. WAL mode allows concurrent readers; writes are serialized
// on a single connection so the per-event unit of work never sees
// SQLITE_BUSY from a sibling worker mid-transaction.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil || fkEnabled != 1 {
		_ = db.Close()
		return nil, fmt.Errorf("foreign keys not enabled (err=%v)", err)
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Infof("SQLite store ready: %s", path)
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is one transaction over the store. All row operations are defined
// on Tx; the per-event pipeline runs detect, correlate and score in a
// single Tx so alert creation is all-or-nothing with the event's own
// persistence.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil and rolling
// back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			logger.Errorf("Rollback failed: %v", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so row operations
// can run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		endpoint_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		ts INTEGER NOT NULL,
		body TEXT NOT NULL,
		received_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_window ON events(endpoint_id, event_type, ts)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		rule_name TEXT NOT NULL,
		endpoint_id TEXT NOT NULL,
		severity TEXT NOT NULL,
		risk_score INTEGER NOT NULL,
		event_count INTEGER NOT NULL,
		first_event_id TEXT NOT NULL,
		last_event_id TEXT NOT NULL,
		linked_event_ids TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		is_escalated INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		UNIQUE(rule_name, endpoint_id, last_event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_endpoint ON alerts(endpoint_id)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
	`CREATE TABLE IF NOT EXISTS alert_status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id TEXT NOT NULL REFERENCES alerts(id),
		previous_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		changed_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_alert ON alert_status_history(alert_id)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL,
		chain_length INTEGER NOT NULL DEFAULT 1,
		risk_score INTEGER NOT NULL DEFAULT 0,
		score_breakdown TEXT NOT NULL DEFAULT '{}',
		first_alert_id TEXT NOT NULL REFERENCES alerts(id),
		last_alert_id TEXT NOT NULL REFERENCES alerts(id),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_endpoint_created ON campaigns(endpoint_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS campaign_alerts (
		campaign_id TEXT NOT NULL REFERENCES campaigns(id),
		alert_id TEXT NOT NULL REFERENCES alerts(id),
		position INTEGER NOT NULL,
		PRIMARY KEY (campaign_id, position),
		UNIQUE (campaign_id, alert_id)
	)`,
}

func (s *Store) migrate() error {
	for i, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
