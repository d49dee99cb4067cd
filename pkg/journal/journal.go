// Package journal keeps a durable record of every dispatched action in
// a local SQLite database, so operators can audit what the engine did
// to each resource and why a forward or export failed.
package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/autorthanc/autorthanc/pkg/errors"
)

// Entry statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Entry is one dispatched action.
type Entry struct {
	ID          string
	RuleID      string
	Level       string
	ResourceID  string
	Action      string
	Destination string
	Status      string
	Error       string
	Forced      bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store is a SQLite-backed journal.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id          TEXT PRIMARY KEY,
	rule_id     TEXT NOT NULL,
	level       TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	action      TEXT NOT NULL,
	destination TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	forced      INTEGER NOT NULL DEFAULT 0,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_resource ON actions(resource_id);
CREATE INDEX IF NOT EXISTS idx_actions_started ON actions(started_at);
`

// Open opens (and if needed creates) the journal database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrJournalOpen,
			"failed to create journal directory for %s", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrJournalOpen, "failed to open journal %s", path)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrJournalOpen, "failed to enable WAL mode")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrJournalOpen, "failed to apply journal schema")
	}

	return &Store{db: db, logger: logger}, nil
}

// Record persists one entry, assigning an ID when absent.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	forced := 0
	if e.Forced {
		forced = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions
			(id, rule_id, level, resource_id, action, destination, status, error, forced, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RuleID, e.Level, e.ResourceID, e.Action, e.Destination,
		e.Status, e.Error, forced,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrJournalWrite, "failed to record action")
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, level, resource_id, action, destination, status, error, forced, started_at, finished_at
		FROM actions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrJournalWrite, "failed to query journal")
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var forced int
		var started, finished string
		if err := rows.Scan(&e.ID, &e.RuleID, &e.Level, &e.ResourceID, &e.Action,
			&e.Destination, &e.Status, &e.Error, &forced, &started, &finished); err != nil {
			return nil, errors.Wrap(err, errors.ErrJournalWrite, "failed to scan journal row")
		}
		e.Forced = forced != 0
		e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
