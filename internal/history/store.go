// Package history keeps a durable log of valve transitions and alerts in
// SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Kind classifies a history entry.
type Kind string

const (
	KindValve Kind = "valve"
	KindAlert Kind = "alert"
)

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 50

// MaxLimit caps Recent.
const MaxLimit = 1000

// Entry is one history row.
type Entry struct {
	ID     int64     `json:"id"`
	Kind   Kind      `json:"kind"`
	Valve  string    `json:"valve,omitempty"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// Store is the SQLite-backed history log.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and migrates it.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: empty database path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}

	// One connection: SQLite has a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: connect %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %q: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: %w", err)
	}
	return &Store{db: db}, nil
}

// Append writes e and returns its row id. e.ID is ignored.
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	if e.Kind == "" {
		return 0, errors.New("history: append: kind is empty")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history (kind, valve, detail, at) VALUES (?, ?, ?, ?)`,
		string(e.Kind), e.Valve, e.Detail, e.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("history: append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history: append: last insert id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, valve, detail, at FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e    Entry
			kind string
			at   string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Valve, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("history: recent: scan: %w", err)
		}
		e.Kind = Kind(kind)
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("history: recent: row %d: bad time %q: %w", e.ID, at, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
