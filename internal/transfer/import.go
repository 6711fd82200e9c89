package transfer

import (
	"context"
	"fmt"

	"github.com/specexplorer/specsync/internal/schema"
)

// Saver persists records locally and pushes them. *sync.Engine satisfies it.
type Saver interface {
	Save(ctx context.Context, c schema.Collection, tenant string, records ...schema.Record) error
}

// ImportOptions controls Import.
type ImportOptions struct {
	Tenant    string
	DryRun    bool
	BatchSize int // records per Save call, default 100
}

// ImportResult summarizes an import.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// Import saves entries through saver in batches, keeping collection order
// as it appears in the input. Entries for other tenants are skipped.
// A failed batch is recorded in Errors and the import continues.
func Import(ctx context.Context, saver Saver, entries []Entry, opts ImportOptions) (*ImportResult, error) {
	if opts.Tenant == "" {
		return nil, fmt.Errorf("tenant is required")
	}
	size := opts.BatchSize
	if size <= 0 {
		size = 100
	}

	result := &ImportResult{}
	var (
		current schema.Collection
		batch   []schema.Record
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		defer func() { batch = nil }()
		if opts.DryRun {
			result.Imported += len(batch)
			return nil
		}
		if err := saver.Save(ctx, current, opts.Tenant, batch...); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", current, err))
			return nil
		}
		result.Imported += len(batch)
		return nil
	}

	for _, e := range entries {
		r := e.Record
		if r.TenantID != "" && r.TenantID != opts.Tenant {
			result.Skipped++
			continue
		}
		if r.ID == "" {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: record without id", e.Collection))
			continue
		}
		if e.Collection != current || len(batch) >= size {
			if err := flush(); err != nil {
				return result, err
			}
			current = e.Collection
		}
		r.TenantID = opts.Tenant
		batch = append(batch, r)
	}
	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

// ImportFile reads a JSONL file and imports it.
func ImportFile(ctx context.Context, saver Saver, path string, opts ImportOptions) (*ImportResult, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Import(ctx, saver, entries, opts)
}
