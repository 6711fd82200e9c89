// Package remote defines the contract between the sync engine and the
// authoritative multi-tenant backend, plus the adapters implementing it.
//
// Every call is scoped by tenant. An adapter without credentials reports
// IsConfigured() == false and fails every call with ErrUnconfigured; the
// engine treats that as "offline" and routes writes to the local queue.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/specexplorer/specsync/internal/schema"
	"go.uber.org/zap"
)

// ErrUnconfigured is returned by every call on a backend without credentials.
var ErrUnconfigured = errors.New("remote backend not configured")

// Backend is the remote side of the sync.
type Backend interface {
	// IsConfigured reports whether endpoint and credentials are present.
	IsConfigured() bool

	// Fetch returns the tenant's records in collection c matching filters
	// (field equality, combined with AND).
	Fetch(ctx context.Context, c schema.Collection, tenant string, filters map[string]any) ([]schema.Record, error)

	// Upsert writes records, tagging each with tenant. Existing records with
	// the same id are overwritten.
	Upsert(ctx context.Context, c schema.Collection, tenant string, records []schema.Record) error

	// Delete removes the tenant's records with the given ids.
	Delete(ctx context.Context, c schema.Collection, tenant string, ids []string) error
}

// Pinger is implemented by backends that can verify connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Error is a failed remote call: network failure, non-2xx response or
// driver error.
type Error struct {
	Op         string
	Collection schema.Collection
	StatusCode int // HTTP status, 0 when not applicable
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("remote ")
	b.WriteString(e.Op)
	if e.Collection != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Collection))
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Disabled is the backend used when no credentials are configured.
type Disabled struct{}

var _ Backend = Disabled{}

func (Disabled) IsConfigured() bool { return false }

func (Disabled) Fetch(context.Context, schema.Collection, string, map[string]any) ([]schema.Record, error) {
	return nil, ErrUnconfigured
}

func (Disabled) Upsert(context.Context, schema.Collection, string, []schema.Record) error {
	return ErrUnconfigured
}

func (Disabled) Delete(context.Context, schema.Collection, string, []string) error {
	return ErrUnconfigured
}

// Kind selects a backend implementation.
type Kind string

const (
	KindREST     Kind = "rest"
	KindLibSQL   Kind = "libsql"
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
)

// Config describes how to reach the remote backend.
type Config struct {
	Kind    Kind
	URL     string // REST endpoint or database DSN
	Key     string // API key (REST) or auth token (libsql)
	Timeout time.Duration
	Logger  *zap.Logger
}

// Open builds the backend described by cfg. Missing credentials yield
// Disabled rather than an error, so an unconfigured client still runs offline.
func Open(cfg Config) (Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Kind {
	case "", KindREST:
		if cfg.URL == "" || cfg.Key == "" {
			logger.Debug("remote credentials missing, running offline")
			return Disabled{}, nil
		}
		return NewREST(cfg.URL, cfg.Key, WithTimeout(cfg.Timeout), WithLogger(logger)), nil

	case KindLibSQL, KindPostgres, KindSQLite:
		if cfg.URL == "" {
			logger.Debug("remote DSN missing, running offline")
			return Disabled{}, nil
		}
		dsn := cfg.URL
		if cfg.Kind == KindLibSQL && cfg.Key != "" && !strings.Contains(dsn, "authToken=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "authToken=" + cfg.Key
		}
		return OpenSQL(Dialect(cfg.Kind), dsn, WithSQLLogger(logger))

	default:
		return nil, fmt.Errorf("unknown remote kind %q", cfg.Kind)
	}
}
