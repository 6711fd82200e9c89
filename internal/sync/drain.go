package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/specexplorer/specsync/internal/schema"
	"go.uber.org/zap"
)

// drain pushes pending queue items oldest first, one at a time. An empty
// tenant drains every item.
//
// A failed push never aborts the drain; the item's retry bookkeeping is
// updated and the next item is tried. Store errors and context cancellation
// abort it.
func (e *Engine) drain(ctx context.Context, tenant string) error {
	items, err := e.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending items: %w", err)
	}

	var pushed, failed int
	for _, item := range items {
		if tenant != "" && item.TenantID != tenant {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		pushErr := e.apply(ctx, item)
		if pushErr == nil {
			if err := e.store.RemoveQueueItem(ctx, item.ID); err != nil {
				return fmt.Errorf("failed to remove pushed item %s: %w", item.ID, err)
			}
			e.metrics.observeItem(outcomePushed)
			pushed++
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		failed++
		if err := e.recordFailure(ctx, item, pushErr); err != nil {
			return err
		}
	}

	if pushed > 0 || failed > 0 {
		e.logger.Info("queue drained",
			zap.Int("pushed", pushed),
			zap.Int("failed", failed))
	}
	return nil
}

// apply sends one queue item to the backend.
func (e *Engine) apply(ctx context.Context, item schema.QueueItem) error {
	switch item.Operation {
	case schema.OpCreate, schema.OpUpdate:
		rec, err := item.Record()
		if err != nil {
			return err
		}
		return e.backend.Upsert(ctx, item.Collection, item.TenantID, []schema.Record{rec})
	case schema.OpDelete:
		return e.backend.Delete(ctx, item.Collection, item.TenantID, []string{item.TargetID()})
	}
	return fmt.Errorf("unknown operation %q", item.Operation)
}

// recordFailure updates retry bookkeeping, or hands the item to the retry
// policy once it already carries MaxRetries failures.
func (e *Engine) recordFailure(ctx context.Context, item schema.QueueItem, pushErr error) error {
	log := e.logger.With(
		zap.String("item", item.ID),
		zap.String("collection", string(item.Collection)),
		zap.String("operation", string(item.Operation)),
		zap.Int("retries", item.Retries))

	if item.Retries < e.maxRetries {
		log.Warn("push failed, will retry", zap.Error(pushErr))
		if err := e.store.UpdateQueueItem(ctx, item.ID, item.Retries+1, pushErr.Error()); err != nil {
			return fmt.Errorf("failed to update queue item %s: %w", item.ID, err)
		}
		e.metrics.observeItem(outcomeRetried)
		return nil
	}

	exhausted := fmt.Errorf("%w: %w", ErrQueueExhausted, pushErr)
	switch e.retryPolicy {
	case DropAfterMaxRetries:
		log.Error("dropping queue item", zap.Error(exhausted))
		if err := e.store.RemoveQueueItem(ctx, item.ID); err != nil {
			return fmt.Errorf("failed to drop queue item %s: %w", item.ID, err)
		}
		e.metrics.observeItem(outcomeDropped)
	default:
		log.Error("moving queue item to dead letters", zap.Error(exhausted))
		if err := e.store.MarkDeadLetter(ctx, item.ID, pushErr.Error()); err != nil {
			return fmt.Errorf("failed to dead-letter queue item %s: %w", item.ID, err)
		}
		e.metrics.observeItem(outcomeDeadLettered)
	}
	return nil
}

// IsExhausted reports whether err marks a queue item past its retry cap.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrQueueExhausted)
}
