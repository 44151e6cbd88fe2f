// SPDX-License-Identifier: MIT

// Package runstore persists RunRecords and the scheduler audit trail in
// SQLite. The RunRecord JSON is the source of truth; the extracted columns
// exist for listing and filtering only.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/ManuGH/autocast/internal/pipeline/model"
)

var ErrNotFound = errors.New("run not found")

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the recommended pool configuration.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
	}
}

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open initializes the connection pool with mandatory PRAGMAs (WAL,
// busy_timeout) applied through the DSN so they hold for every pooled
// connection, then creates the schema.
func Open(dbPath string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("runstore: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstore: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	execution_id TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	record       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE TABLE IF NOT EXISTS scheduler_audit (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	at      INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	topic   TEXT NOT NULL DEFAULT '',
	detail  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_at ON scheduler_audit(at DESC);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("runstore: migrate: %w", err)
	}
	return nil
}

// Put upserts the full record. The coordinator calls this on every stage
// transition, so readers always observe the latest state.
func (s *Store) Put(ctx context.Context, rec *model.RunRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("runstore: encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs (execution_id, project_id, status, started_at, record)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(execution_id) DO UPDATE SET
	project_id = excluded.project_id,
	status     = excluded.status,
	record     = excluded.record`,
		rec.ExecutionID, rec.ProjectID, string(rec.Status), rec.StartedAt.Unix(), string(buf))
	if err != nil {
		return fmt.Errorf("runstore: put %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// Get returns the record or ErrNotFound.
func (s *Store) Get(ctx context.Context, executionID string) (*model.RunRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM runs WHERE execution_id = ?`, executionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("runstore: get %s: %w", executionID, err)
	}
	var rec model.RunRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("runstore: decode %s: %w", executionID, err)
	}
	return &rec, nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*model.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM runs ORDER BY started_at DESC, execution_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runstore: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.RunRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec model.RunRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("runstore: decode listed record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// CountActive returns the number of unsealed runs.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = ?`, string(model.RunRunning)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("runstore: count active: %w", err)
	}
	return n, nil
}

// AuditEntry is one scheduler decision.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"` // dispatched | throttled | no_eligible_topic | error
	Topic   string    `json:"topic,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// AppendAudit records one scheduler decision.
func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_audit (at, outcome, topic, detail) VALUES (?, ?, ?, ?)`,
		e.At.Unix(), e.Outcome, e.Topic, e.Detail)
	if err != nil {
		return fmt.Errorf("runstore: append audit: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries, newest first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, outcome, topic, detail FROM scheduler_audit ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runstore: list audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at int64
		if err := rows.Scan(&at, &e.Outcome, &e.Topic, &e.Detail); err != nil {
			return nil, err
		}
		e.At = time.Unix(at, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }
