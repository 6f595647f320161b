// Package store persists captured exchanges in SQLite. The unique index on
// the content hash is the sole conflict-resolution authority: inserting a
// record whose hash already exists is a no-op, never an error and never a
// second row.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages captured-exchange persistence.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at the given path and ensures the
// schema exists. Reopening an existing path preserves previously written
// rows.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening capture db: %w", err)
	}

	// Single-writer discipline: one connection serializes writes and keeps
	// a committed insert visible to the next reader immediately.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS api_requests (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			request_hash     TEXT UNIQUE,
			timestamp        REAL,
			method           TEXT,
			url              TEXT,
			host             TEXT,
			path             TEXT,
			query_params     TEXT,
			headers          TEXT,
			request_body     TEXT,
			response_status  INTEGER,
			response_headers TEXT,
			response_body    TEXT,
			response_time    REAL,
			client_ip        TEXT,
			created_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_request_hash ON api_requests(request_hash);
		CREATE INDEX IF NOT EXISTS idx_timestamp ON api_requests(timestamp);
		CREATE INDEX IF NOT EXISTS idx_host ON api_requests(host);
	`)
	if err != nil {
		return fmt.Errorf("creating api_requests table: %w", err)
	}
	return nil
}

// InsertIfAbsent inserts the record unless a row with the same hash already
// exists. It reports whether a new row was written.
func (s *Store) InsertIfAbsent(ctx context.Context, r *Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO api_requests
		(request_hash, timestamp, method, url, host, path, query_params,
		 headers, request_body, response_status, response_headers,
		 response_body, response_time, client_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Hash, r.Timestamp, r.Method, r.URL, r.Host, r.Path, r.QueryParams,
		r.Headers, r.RequestBody, nullableInt(r.ResponseStatus),
		r.ResponseHeaders, r.ResponseBody, nullableFloat(r.ResponseTime),
		r.ClientAddr,
	)
	if err != nil {
		return false, fmt.Errorf("inserting capture: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting capture: %w", err)
	}
	return n > 0, nil
}

// HasHash reports whether a record with the given content hash exists.
func (s *Store) HasHash(ctx context.Context, hash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_requests WHERE request_hash = ?`, hash,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking hash: %w", err)
	}
	return count > 0, nil
}

// RecentByHost returns signature fields of up to limit records for the host
// with timestamp >= since, newest first. This backs the fuzzy detector's
// bounded recency scan.
func (s *Store) RecentByHost(ctx context.Context, host string, since float64, limit int) ([]SignatureRow, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT host, path, query_params FROM api_requests
		WHERE host = ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?`, host, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent by host: %w", err)
	}
	defer rows.Close()

	var out []SignatureRow
	for rows.Next() {
		var sr SignatureRow
		if err := rows.Scan(&sr.Host, &sr.Path, &sr.QueryParams); err != nil {
			return nil, fmt.Errorf("scanning signature row: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// ListRecent returns the most recent records ordered by timestamp
// descending. This is the consumer-facing read used by the dashboard.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_hash, timestamp, method, url, host, path,
		       query_params, headers, request_body, response_status,
		       response_headers, response_body, response_time, client_ip,
		       created_at
		FROM api_requests
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing captures: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Count returns the number of captured records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting captures: %w", err)
	}
	return n, nil
}

// Watermark returns the highest record id, or 0 for an empty store. A
// consumer polling for changes fetches new rows whenever the watermark
// advances.
func (s *Store) Watermark(ctx context.Context) (int64, error) {
	var wm sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM api_requests`).Scan(&wm); err != nil {
		return 0, fmt.Errorf("reading watermark: %w", err)
	}
	return wm.Int64, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var status sql.NullInt64
		var respTime sql.NullFloat64
		var createdAt string
		err := rows.Scan(&r.ID, &r.Hash, &r.Timestamp, &r.Method, &r.URL,
			&r.Host, &r.Path, &r.QueryParams, &r.Headers, &r.RequestBody,
			&status, &r.ResponseHeaders, &r.ResponseBody, &respTime,
			&r.ClientAddr, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning capture row: %w", err)
		}
		r.ResponseStatus = int(status.Int64)
		r.ResponseTime = respTime.Float64
		r.CapturedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
