package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/specexplorer/specsync/internal/schema"
	"go.uber.org/zap"
)

const (
	restPrefix     = "/rest/v1/"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// REST talks to a PostgREST-style HTTP API (Supabase and compatible).
//
// Collections map to /rest/v1/<collection>; every request carries the key as
// both the apikey header and a bearer token.
type REST struct {
	baseURL string
	key     string
	client  *http.Client
	logger  *zap.Logger
}

var (
	_ Backend = (*REST)(nil)
	_ Pinger  = (*REST)(nil)
)

// RESTOption configures a REST backend.
type RESTOption func(*REST)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(r *REST) { r.client = c }
}

// WithTimeout sets the per-request timeout. Zero keeps the default.
func WithTimeout(d time.Duration) RESTOption {
	return func(r *REST) {
		if d > 0 {
			r.client.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RESTOption {
	return func(r *REST) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewREST creates a REST backend for baseURL authenticated with key.
func NewREST(baseURL, key string, opts ...RESTOption) *REST {
	r := &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("remote")
	return r
}

// IsConfigured reports whether both endpoint and key are set.
func (r *REST) IsConfigured() bool {
	return r.baseURL != "" && r.key != ""
}

// Fetch selects the tenant's rows, adding one eq filter per entry in filters.
func (r *REST) Fetch(ctx context.Context, c schema.Collection, tenant string, filters map[string]any) ([]schema.Record, error) {
	if !r.IsConfigured() {
		return nil, ErrUnconfigured
	}

	q := url.Values{}
	q.Set("select", "*")
	q.Set(schema.FieldTenantID, "eq."+tenant)

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !schema.ValidField(k) {
			return nil, fmt.Errorf("invalid filter field %q", k)
		}
		if k == schema.FieldTenantID {
			continue
		}
		q.Set(k, "eq."+fmt.Sprint(filters[k]))
	}

	var rows []map[string]any
	if err := r.do(ctx, "fetch", c, http.MethodGet, string(c), q, nil, nil, &rows); err != nil {
		return nil, err
	}

	records := make([]schema.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := schema.RecordFromMap(row)
		if err != nil {
			return nil, &Error{Op: "fetch", Collection: c, Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}

// Upsert posts records with merge-duplicates resolution on id.
func (r *REST) Upsert(ctx context.Context, c schema.Collection, tenant string, records []schema.Record) error {
	if !r.IsConfigured() {
		return ErrUnconfigured
	}
	if len(records) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		m := rec.Map()
		m[schema.FieldTenantID] = tenant
		rows = append(rows, m)
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", c, err)
	}

	q := url.Values{}
	q.Set("on_conflict", schema.FieldID)
	headers := map[string]string{
		"Prefer":       "resolution=merge-duplicates,return=minimal",
		"Content-Type": "application/json",
	}
	return r.do(ctx, "upsert", c, http.MethodPost, string(c), q, headers, body, nil)
}

// Delete removes the tenant's rows whose id is in ids.
func (r *REST) Delete(ctx context.Context, c schema.Collection, tenant string, ids []string) error {
	if !r.IsConfigured() {
		return ErrUnconfigured
	}
	if len(ids) == 0 {
		return nil
	}

	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + strings.ReplaceAll(id, `"`, `\"`) + `"`
	}

	q := url.Values{}
	q.Set(schema.FieldTenantID, "eq."+tenant)
	q.Set(schema.FieldID, "in.("+strings.Join(quoted, ",")+")")
	return r.do(ctx, "delete", c, http.MethodDelete, string(c), q, nil, nil, nil)
}

// Ping selects a single tenant id to verify endpoint and key.
func (r *REST) Ping(ctx context.Context) error {
	if !r.IsConfigured() {
		return ErrUnconfigured
	}
	q := url.Values{}
	q.Set("select", schema.FieldID)
	q.Set("limit", "1")
	var rows []map[string]any
	return r.do(ctx, "ping", "", http.MethodGet, "tenants", q, nil, nil, &rows)
}

func (r *REST) do(ctx context.Context, op string, c schema.Collection, method, path string, q url.Values, headers map[string]string, body []byte, out any) error {
	u := r.baseURL + restPrefix + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return &Error{Op: op, Collection: c, Err: err}
	}
	req.Header.Set("apikey", r.key)
	req.Header.Set("Authorization", "Bearer "+r.key)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return &Error{Op: op, Collection: c, Err: err}
	}
	defer resp.Body.Close()

	r.logger.Debug("request",
		zap.String("op", op),
		zap.String("collection", string(c)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return &Error{Op: op, Collection: c, StatusCode: resp.StatusCode, Err: errors.New(text)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Collection: c, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
