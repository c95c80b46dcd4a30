// Package accesslog keeps a history of completed requests in SQLite.
package accesslog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/leonletto/webdemos/internal/identity"
	"github.com/leonletto/webdemos/internal/responder"
)

// timeFormat is fixed width so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the access history database. All queries take a context.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Insert stores one record. Re-inserting an ID is a no-op. A record without
// a time takes the one embedded in its ID.
func (s *Store) Insert(ctx context.Context, r responder.Record) error {
	if r.Time.IsZero() {
		t, err := identity.RequestTime(r.ID)
		if err != nil {
			return fmt.Errorf("insert request %s: %w", r.ID, err)
		}
		r.Time = t
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO requests (id, time, remote_ip, method, uri, query, status, bytes, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Time.UTC().Format(timeFormat), r.RemoteIP, r.Method, r.URI, r.Query,
		r.Status, r.Bytes, int64(r.Duration))
	if err != nil {
		return fmt.Errorf("insert request %s: %w", r.ID, err)
	}
	return nil
}

// Query filters Recent results. Zero values match everything.
type Query struct {
	Limit    int
	RemoteIP string
	Since    time.Time
}

// Recent returns matching records, newest first.
func (s *Store) Recent(ctx context.Context, q Query) ([]responder.Record, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	query := `SELECT id, time, remote_ip, method, uri, query, status, bytes, duration_ns FROM requests WHERE 1=1`
	var args []any
	if q.RemoteIP != "" {
		query += " AND remote_ip = ?"
		args = append(args, q.RemoteIP)
	}
	if !q.Since.IsZero() {
		query += " AND time >= ?"
		args = append(args, q.Since.UTC().Format(timeFormat))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []responder.Record
	for rows.Next() {
		var (
			r        responder.Record
			ts       string
			duration int64
		)
		if err := rows.Scan(&r.ID, &ts, &r.RemoteIP, &r.Method, &r.URI, &r.Query, &r.Status, &r.Bytes, &duration); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		r.Time, err = time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parse time of %s: %w", r.ID, err)
		}
		r.Duration = time.Duration(duration)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM requests").Scan(&n); err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return n, nil
}

// Prune deletes records older than cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM requests WHERE time < ?", cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("prune requests: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
