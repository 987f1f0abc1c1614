package reqlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// defaultBusyTimeout is the SQLite busy timeout in milliseconds.
const defaultBusyTimeout = 5000

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		id                TEXT PRIMARY KEY,
		model             TEXT    NOT NULL,
		message_count     INTEGER NOT NULL,
		user_initiated    INTEGER NOT NULL DEFAULT 0,
		kind              TEXT    NOT NULL,
		server_request_id TEXT    NOT NULL DEFAULT '',
		first_token_ms    INTEGER NOT NULL DEFAULT 0,
		duration_ms       INTEGER NOT NULL DEFAULT 0,
		created_at        TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at)`,
}

// SQLiteStore persists request records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a request log database at path.
// The database uses WAL mode, a 5 s busy timeout, and a single
// connection (SQLite serialises writes).
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("reqlog: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("reqlog: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reqlog: enable WAL: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reqlog: set busy_timeout: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("reqlog: apply schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(rec Record) error {
	_, err := s.db.Exec(
		`INSERT INTO requests
			(id, model, message_count, user_initiated, kind, server_request_id, first_token_ms, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Model,
		rec.MessageCount,
		boolToInt(rec.UserInitiated),
		rec.Kind,
		rec.ServerRequestID,
		rec.FirstToken.Milliseconds(),
		rec.Duration.Milliseconds(),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("reqlog: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(limit int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT id, model, message_count, user_initiated, kind, server_request_id, first_token_ms, duration_ms, created_at
		 FROM requests ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reqlog: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		var userInit int
		var firstTokenMS, durationMS int64
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Model, &rec.MessageCount, &userInit, &rec.Kind,
			&rec.ServerRequestID, &firstTokenMS, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("reqlog: scan: %w", err)
		}
		rec.UserInitiated = userInit != 0
		rec.FirstToken = time.Duration(firstTokenMS) * time.Millisecond
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Interface guards.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
