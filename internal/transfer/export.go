package transfer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/specexplorer/specsync/internal/schema"
	"github.com/specexplorer/specsync/internal/store"
)

// Source reads a tenant's records. *store.Store satisfies it.
type Source interface {
	QueryByTenant(ctx context.Context, tenant string, c schema.Collection, pred store.Predicate) ([]schema.Record, error)
}

// ExportOptions selects what Export writes.
type ExportOptions struct {
	Tenant      string
	Collections []schema.Collection // defaults to schema.Tracked()
}

// ExportResult summarizes an export.
type ExportResult struct {
	Counts   map[schema.Collection]int
	Total    int
	Location string
}

// Collect gathers the tenant's records as entries, collection by collection.
func Collect(ctx context.Context, src Source, opts ExportOptions) ([]Entry, *ExportResult, error) {
	if opts.Tenant == "" {
		return nil, nil, fmt.Errorf("tenant is required")
	}
	collections := opts.Collections
	if len(collections) == 0 {
		collections = schema.Tracked()
	}

	result := &ExportResult{Counts: make(map[schema.Collection]int, len(collections))}
	var entries []Entry
	for _, c := range collections {
		records, err := src.QueryByTenant(ctx, opts.Tenant, c, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", c, err)
		}
		for _, r := range records {
			entries = append(entries, Entry{Collection: c, Record: r})
		}
		result.Counts[c] = len(records)
		result.Total += len(records)
	}
	return entries, result, nil
}

// Export writes the tenant's records to sink under ObjectName.
func Export(ctx context.Context, src Source, sink Sink, opts ExportOptions, now time.Time) (*ExportResult, error) {
	entries, result, err := Collect(ctx, src, opts)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, entries); err != nil {
		return nil, err
	}
	loc, err := sink.Put(ctx, ObjectName(opts.Tenant, now), buf.Bytes())
	if err != nil {
		return nil, err
	}
	result.Location = loc
	return result, nil
}

// ObjectName is the file or object name of an export taken at t.
func ObjectName(tenant string, t time.Time) string {
	return fmt.Sprintf("%s-%s.jsonl", tenant, t.UTC().Format("20060102T150405Z"))
}
