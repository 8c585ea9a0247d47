// Package journal records every routed request in a SQLite database so a
// client can review what the host has been asked to do.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rexliu/liveprobe/pkg/ids"
)

// Entry is one request/response exchange.
type Entry struct {
	ID        string        `json:"id"`
	RequestID int64         `json:"request_id"`
	Method    string        `json:"method"`
	ErrorCode *int          `json:"error_code,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Stats summarizes the journal.
type Stats struct {
	Total    int            `json:"total"`
	Errors   int            `json:"errors"`
	ByMethod map[string]int `json:"by_method"`
}

// Store owns the journal database.
type Store struct {
	db   *sql.DB
	path string
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; the host tick is the only caller
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init applies pragmas and the schema.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			request_id INTEGER NOT NULL,
			method TEXT NOT NULL,
			error_code INTEGER,
			duration_us INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_method ON exchanges(method);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Record appends e, filling ID and CreatedAt when empty.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.CreatedAt)
	}
	var code sql.NullInt64
	if e.ErrorCode != nil {
		code = sql.NullInt64{Int64: int64(*e.ErrorCode), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges(id, request_id, method, error_code, duration_us, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, e.ID, e.RequestID, e.Method, code, e.Duration.Microseconds(), e.CreatedAt.UnixMilli())
	if err != nil {
		return Entry{}, fmt.Errorf("record exchange %d: %w", e.RequestID, err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first. ULIDs sort by time, so
// ordering by id keeps entries recorded within the same millisecond in order.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, method, error_code, duration_us, created_at
		FROM exchanges
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			code     sql.NullInt64
			duration int64
			created  int64
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Method, &code, &duration, &created); err != nil {
			return nil, err
		}
		if code.Valid {
			c := int(code.Int64)
			e.ErrorCode = &c
		}
		e.Duration = time.Duration(duration) * time.Microsecond
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats counts entries per method and how many ended in an error.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByMethod: make(map[string]int)}
	rows, err := s.db.QueryContext(ctx, `
		SELECT method, COUNT(*), SUM(CASE WHEN error_code IS NULL THEN 0 ELSE 1 END)
		FROM exchanges
		GROUP BY method;
	`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			method string
			count  int
			errs   int
		)
		if err := rows.Scan(&method, &count, &errs); err != nil {
			return Stats{}, err
		}
		stats.ByMethod[method] = count
		stats.Total += count
		stats.Errors += errs
	}
	return stats, rows.Err()
}

// Prune keeps the newest keep entries and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM exchanges
		WHERE id NOT IN (SELECT id FROM exchanges ORDER BY id DESC LIMIT ?);
	`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
