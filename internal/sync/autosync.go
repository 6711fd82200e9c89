package sync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultAutoSyncInterval is used when StartAutoSync gets a non-positive interval.
const DefaultAutoSyncInterval = 30 * time.Second

// StartAutoSync schedules SyncAll(ctx, tenant) every interval and runs one
// cycle synchronously before returning its result.
//
// With an unconfigured backend the status becomes offline, subscribers are
// notified and nothing is scheduled. Calling it again replaces the running
// schedule. The schedule also ends when ctx is cancelled.
func (e *Engine) StartAutoSync(ctx context.Context, interval time.Duration, tenant string) bool {
	if !e.backend.IsConfigured() {
		e.update(ctx, func(s *State) {
			s.Status = StatusOffline
		})
		e.logger.Info("remote backend not configured, auto-sync disabled")
		return false
	}
	if interval <= 0 {
		interval = DefaultAutoSyncInterval
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	e.autoMu.Lock()
	if e.stop != nil {
		close(e.stop)
	}
	e.stop, e.done = stop, done
	e.autoMu.Unlock()

	go e.autoSyncLoop(ctx, interval, tenant, stop, done)
	e.logger.Info("auto-sync started",
		zap.Duration("interval", interval),
		zap.String("tenant", tenant))

	return e.SyncAll(ctx, tenant)
}

// StopAutoSync cancels the schedule. A cycle already in flight runs to
// completion. Safe to call when no schedule is running.
func (e *Engine) StopAutoSync() {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()

	if e.stop == nil {
		return
	}
	close(e.stop)
	e.stop = nil
	e.logger.Info("auto-sync stopped")
}

// AutoSyncRunning reports whether a schedule is active.
func (e *Engine) AutoSyncRunning() bool {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	return e.stop != nil
}

func (e *Engine) autoSyncLoop(ctx context.Context, interval time.Duration, tenant string, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			// Stop may have raced with the tick.
			select {
			case <-stop:
				return
			default:
			}
			e.SyncAll(ctx, tenant)
		}
	}
}
