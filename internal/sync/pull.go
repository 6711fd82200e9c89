package sync

import (
	"context"
	"fmt"

	"github.com/specexplorer/specsync/internal/schema"
	"go.uber.org/zap"
)

// pull overwrites local copies of collections with the tenant's remote
// records. It stops at the first failing collection.
func (e *Engine) pull(ctx context.Context, tenant string, collections []schema.Collection) error {
	for _, c := range collections {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.pullCollection(ctx, tenant, c)
		if err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
		e.metrics.observePull(string(c), n)
		e.logger.Debug("pulled collection",
			zap.String("collection", string(c)),
			zap.String("tenant", tenant),
			zap.Int("records", n))
	}
	return nil
}

func (e *Engine) pullCollection(ctx context.Context, tenant string, c schema.Collection) (int, error) {
	records, err := e.backend.Fetch(ctx, c, tenant, nil)
	if err != nil {
		return 0, err
	}

	for i := range records {
		if records[i].TenantID == "" {
			records[i].TenantID = tenant
		}
	}

	if err := e.store.BulkUpsert(ctx, c, records); err != nil {
		return 0, err
	}
	return len(records), nil
}
