// Package sqlite persists accounts and alert rules in a single-file
// database. Samples stay out of sqlite on purpose: the sample store is
// either in-memory or redis, and the append rate would dominate a
// single-writer file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                 TEXT PRIMARY KEY,
	username           TEXT NOT NULL,
	display_name       TEXT NOT NULL DEFAULT '',
	profile_url        TEXT NOT NULL DEFAULT '',
	priority           INTEGER NOT NULL,
	active             INTEGER NOT NULL,
	tags               TEXT NOT NULL DEFAULT '[]',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	last_scraped_at    TEXT,
	last_error_message TEXT,
	last_error_at      TEXT
);

CREATE TABLE IF NOT EXISTS alert_rules (
	id                TEXT PRIMARY KEY,
	account_id        TEXT NOT NULL,
	metric            TEXT NOT NULL,
	op                TEXT NOT NULL,
	threshold         REAL NOT NULL,
	window            TEXT NOT NULL DEFAULT '',
	channel           TEXT NOT NULL,
	channel_config    TEXT NOT NULL DEFAULT '{}',
	description       TEXT NOT NULL DEFAULT '',
	active            INTEGER NOT NULL,
	last_triggered_at TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alert_rules_account ON alert_rules(account_id);
`

// Store wraps one sqlite database file holding the account registry and
// the alert rule set.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// ?_busy_timeout keeps concurrent registry and alert writes from
// failing fast with SQLITE_BUSY.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// sqlite allows one writer; a larger pool only produces lock errors
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// timestamps are stored as RFC3339Nano text, UTC
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

func encodeOptionalTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}

func decodeOptionalTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	t, err := decodeTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
