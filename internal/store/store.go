// Package store provides the local persistent store used while offline.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3, WAL mode)
// holding one table per tracked collection plus the durable mutation queue.
//
// Architecture:
//   - Database file: .specsync/local.db
//   - WAL mode: readers keep working while the sync engine writes
//   - Collection tables: keyed by (tenant_id, id), payload stored as JSON
//   - sync_queue: FIFO of pending mutations, drained by the sync engine
//
// Every query is tenant-scoped. Each individual record or queue mutation is
// atomic; no transaction spans a whole sync cycle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/specexplorer/specsync/internal/schema"
)

// ErrUnknownCollection is returned for collections the store has no table for.
var ErrUnknownCollection = errors.New("unknown collection")

// Store wraps the SQLite connection backing the local collections and queue.
type Store struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates a new store at the specified path.
//
// The database is opened in WAL mode. Call InitSchema before first use.
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(".specsync/local.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	connStr := path
	if !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// Pragmas in the DSN apply to every pooled connection.
		connStr = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.conn.Exec(p); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return s, nil
}

// Path returns the location the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the collection tables and the queue table.
// This is idempotent - safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	var b strings.Builder
	for _, c := range schema.Tracked() {
		fmt.Fprintf(&b, `
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON payload without reserved keys
		created_at TEXT,
		updated_at TEXT,
		PRIMARY KEY (tenant_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_created ON %[1]s(tenant_id, created_at);
	`, c)
	}

	b.WriteString(`
	CREATE TABLE IF NOT EXISTS sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		operation TEXT NOT NULL,  -- create, update, delete
		data TEXT NOT NULL,       -- JSON snapshot or {id}
		timestamp TEXT NOT NULL,  -- enqueue time, fixed-width ISO-8601 UTC
		retries INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_drain ON sync_queue(status, timestamp, seq);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_collection ON sync_queue(collection);
	`)

	if _, err := s.conn.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// table validates c against the tracked set before it is interpolated into SQL.
func table(c schema.Collection) (string, error) {
	if !c.IsTracked() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	return string(c), nil
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: schema.FormatTime(t), Valid: true}
}

func parseNullTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := schema.ParseTime(ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
