package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/specexplorer/specsync/internal/schema"
	_ "github.com/tursodatabase/go-libsql" // registers "libsql"
	"go.uber.org/zap"
)

// Dialect selects SQL syntax and the database/sql driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectLibSQL   Dialect = "libsql"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driver() (string, error) {
	switch d {
	case DialectSQLite:
		return "sqlite3", nil
	case DialectLibSQL:
		return "libsql", nil
	case DialectPostgres:
		return "pgx", nil
	}
	return "", fmt.Errorf("unknown SQL dialect %q", d)
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// SQL is a backend on a remote SQL database (Turso/libSQL or Postgres).
//
// Each collection is a table keyed by (tenant_id, id) with the payload held
// as JSON text, the same layout the local store uses. Every statement is
// scoped by tenant_id, including the upsert conflict target, so one tenant
// can never overwrite another's row.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

var (
	_ Backend = (*SQL)(nil)
	_ Pinger  = (*SQL)(nil)
)

// SQLOption configures a SQL backend.
type SQLOption func(*SQL)

// WithSQLLogger sets the logger.
func WithSQLLogger(l *zap.Logger) SQLOption {
	return func(s *SQL) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenSQL opens dsn with the driver for dialect and verifies the connection.
func OpenSQL(dialect Dialect, dsn string, opts ...SQLOption) (*SQL, error) {
	driver, err := dialect.driver()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return NewSQL(db, dialect, opts...), nil
}

// NewSQL wraps an already opened database.
func NewSQL(db *sql.DB, dialect Dialect, opts ...SQLOption) *SQL {
	s := &SQL{db: db, dialect: dialect, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("remote")
	return s
}

// Close closes the database.
func (s *SQL) Close() error {
	return s.db.Close()
}

// IsConfigured reports whether a database handle is present.
func (s *SQL) IsConfigured() bool {
	return s != nil && s.db != nil
}

// Ping verifies the database is reachable.
func (s *SQL) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}

// EnsureSchema creates one table per tracked collection.
// This is idempotent - safe to call multiple times.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	for _, c := range schema.Tracked() {
		ddl := `CREATE TABLE IF NOT EXISTS ` + string(c) + ` (
			id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TEXT,
			updated_at TEXT,
			PRIMARY KEY (tenant_id, id)
		)`
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return &Error{Op: "ensure schema", Collection: c, Err: err}
		}
	}
	return nil
}

// Fetch returns the tenant's rows. Filters on reserved columns are pushed
// into the query; payload filters are applied after decoding.
func (s *SQL) Fetch(ctx context.Context, c schema.Collection, tenant string, filters map[string]any) ([]schema.Record, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var (
		where   = []string{"tenant_id = " + s.dialect.placeholder(1)}
		args    = []any{tenant}
		payload = map[string]any{}
	)
	for k, v := range filters {
		if !schema.ValidField(k) {
			return nil, fmt.Errorf("invalid filter field %q", k)
		}
		switch k {
		case schema.FieldTenantID:
		case schema.FieldID, schema.FieldCreatedAt, schema.FieldUpdatedAt:
			args = append(args, fmt.Sprint(v))
			where = append(where, k+" = "+s.dialect.placeholder(len(args)))
		default:
			payload[k] = v
		}
	}

	query := `SELECT id, tenant_id, data, created_at, updated_at FROM ` + string(c) +
		` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &Error{Op: "fetch", Collection: c, Err: err}
	}
	defer rows.Close()

	var records []schema.Record
	for rows.Next() {
		var (
			rec                  schema.Record
			dataJSON             string
			createdAt, updatedAt sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &dataJSON, &createdAt, &updatedAt); err != nil {
			return nil, &Error{Op: "fetch", Collection: c, Err: err}
		}
		if err := json.Unmarshal([]byte(dataJSON), &rec.Data); err != nil {
			return nil, &Error{Op: "fetch", Collection: c, Err: fmt.Errorf("record %s: %w", rec.ID, err)}
		}
		if createdAt.Valid {
			rec.CreatedAt, _ = schema.ParseTime(createdAt.String)
		}
		if updatedAt.Valid {
			rec.UpdatedAt, _ = schema.ParseTime(updatedAt.String)
		}
		if matchesPayload(rec, payload) {
			records = append(records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "fetch", Collection: c, Err: err}
	}
	return records, nil
}

func matchesPayload(rec schema.Record, filters map[string]any) bool {
	for k, v := range filters {
		if fmt.Sprint(rec.Data[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// Upsert writes records inside one transaction, tagging each with tenant.
func (s *SQL) Upsert(ctx context.Context, c schema.Collection, tenant string, records []schema.Record) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "upsert", Collection: c, Err: err}
	}
	defer tx.Rollback()

	p := s.dialect.placeholder
	stmt := `INSERT INTO ` + string(c) + ` (id, tenant_id, data, created_at, updated_at)
		VALUES (` + p(1) + `, ` + p(2) + `, ` + p(3) + `, ` + p(4) + `, ` + p(5) + `)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			data = excluded.data,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`

	for _, rec := range records {
		if rec.ID == "" {
			return &Error{Op: "upsert", Collection: c, Err: fmt.Errorf("record without id")}
		}
		payload := rec.Data
		if payload == nil {
			payload = map[string]any{}
		}
		dataJSON, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", c, rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx, stmt,
			rec.ID, tenant, string(dataJSON), optTime(rec.CreatedAt), optTime(rec.UpdatedAt),
		); err != nil {
			return &Error{Op: "upsert", Collection: c, Err: fmt.Errorf("record %s: %w", rec.ID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Op: "upsert", Collection: c, Err: err}
	}
	s.logger.Debug("upserted", zap.String("collection", string(c)), zap.Int("count", len(records)))
	return nil
}

// Delete removes the tenant's rows whose id is in ids.
func (s *SQL) Delete(ctx context.Context, c schema.Collection, tenant string, ids []string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, tenant)
	marks := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		marks[i] = s.dialect.placeholder(i + 2)
	}

	query := `DELETE FROM ` + string(c) + ` WHERE tenant_id = ` + s.dialect.placeholder(1) +
		` AND id IN (` + strings.Join(marks, ", ") + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &Error{Op: "delete", Collection: c, Err: err}
	}
	return nil
}

func optTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return schema.FormatTime(t)
}
