package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/specexplorer/specsync/internal/remote"
	"github.com/specexplorer/specsync/internal/schema"
	"go.uber.org/zap"
)

// PushToServer sends records to the backend, or queues one create item per
// record when the backend is unconfigured or the write policy says so.
func (e *Engine) PushToServer(ctx context.Context, c schema.Collection, tenant string, records ...schema.Record) error {
	if len(records) == 0 {
		return nil
	}
	if tenant == "" {
		return fmt.Errorf("tenant is required")
	}

	items := make([]schema.QueueItem, len(records))
	for i, rec := range records {
		items[i] = schema.NewUpsertItem(c, tenant, rec)
	}
	return e.write(ctx, c, items, func(ctx context.Context) error {
		return e.backend.Upsert(ctx, c, tenant, records)
	})
}

// DeleteFromServer deletes ids remotely, or queues one delete item per id
// when the backend is unconfigured or the write policy says so.
func (e *Engine) DeleteFromServer(ctx context.Context, c schema.Collection, tenant string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if tenant == "" {
		return fmt.Errorf("tenant is required")
	}

	items := make([]schema.QueueItem, len(ids))
	for i, id := range ids {
		items[i] = schema.NewDeleteItem(c, tenant, id)
	}
	return e.write(ctx, c, items, func(ctx context.Context) error {
		return e.backend.Delete(ctx, c, tenant, ids)
	})
}

func (e *Engine) write(ctx context.Context, c schema.Collection, items []schema.QueueItem, send func(context.Context) error) error {
	if !c.IsTracked() {
		return fmt.Errorf("collection %q is not tracked", c)
	}

	if !e.backend.IsConfigured() || e.writePolicy == WriteQueueFirst {
		return e.enqueue(ctx, items)
	}

	err := send(ctx)
	if err == nil {
		return nil
	}

	var rerr *remote.Error
	if e.writePolicy == WriteQueueOnFailure && errors.As(err, &rerr) {
		e.logger.Warn("remote write failed, queueing for later",
			zap.String("collection", string(c)),
			zap.Int("items", len(items)),
			zap.Error(err))
		return e.enqueue(ctx, items)
	}
	return err
}

func (e *Engine) enqueue(ctx context.Context, items []schema.QueueItem) error {
	for _, item := range items {
		if _, err := e.store.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("failed to queue %s %s/%s: %w", item.Operation, item.Collection, item.TargetID(), err)
		}
	}
	e.update(ctx, nil)
	return nil
}

// Save writes records to the local store and pushes them.
func (e *Engine) Save(ctx context.Context, c schema.Collection, tenant string, records ...schema.Record) error {
	for i := range records {
		if records[i].TenantID == "" {
			records[i].TenantID = tenant
		}
		if records[i].TenantID != tenant {
			return fmt.Errorf("record %s belongs to tenant %q, not %q", records[i].ID, records[i].TenantID, tenant)
		}
	}
	if err := e.store.BulkUpsert(ctx, c, records); err != nil {
		return fmt.Errorf("failed to save %s locally: %w", c, err)
	}
	return e.PushToServer(ctx, c, tenant, records...)
}

// Remove deletes ids from the local store and from the backend.
func (e *Engine) Remove(ctx context.Context, c schema.Collection, tenant string, ids ...string) error {
	if err := e.store.DeleteRecords(ctx, c, tenant, ids); err != nil {
		return fmt.Errorf("failed to delete %s locally: %w", c, err)
	}
	return e.DeleteFromServer(ctx, c, tenant, ids)
}
