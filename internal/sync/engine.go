package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specexplorer/specsync/internal/remote"
	"github.com/specexplorer/specsync/internal/schema"
	"go.uber.org/zap"
)

var (
	// ErrSyncInProgress is returned by ForcePull and ForcePush while another
	// cycle holds the engine.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrQueueExhausted marks a queue item that failed after MaxRetries
	// attempts. It wraps the last remote error.
	ErrQueueExhausted = errors.New("queue item exhausted its retries")
)

// LocalStore is the subset of the local store the engine drives.
type LocalStore interface {
	BulkUpsert(ctx context.Context, c schema.Collection, records []schema.Record) error
	DeleteRecords(ctx context.Context, c schema.Collection, tenant string, ids []string) error

	Enqueue(ctx context.Context, item schema.QueueItem) (string, error)
	ListPending(ctx context.Context) ([]schema.QueueItem, error)
	RemoveQueueItem(ctx context.Context, id string) error
	UpdateQueueItem(ctx context.Context, id string, retries int, lastError string) error
	MarkDeadLetter(ctx context.Context, id string, lastError string) error
	PendingCount(ctx context.Context) (int, error)
	DeadLetterCount(ctx context.Context) (int, error)
}

// Config holds engine settings. Zero values select defaults.
type Config struct {
	// MaxRetries is the retry cap per queue item (default 3).
	MaxRetries int

	// RetryPolicy handles items failing past MaxRetries
	// (default RetainForManualReview).
	RetryPolicy RetryPolicy

	// WritePolicy routes PushToServer / DeleteFromServer while configured
	// (default WriteDirect).
	WritePolicy WritePolicy

	// Collections pulled by SyncAll and ForcePull (default schema.Tracked()).
	Collections []schema.Collection

	Logger  *zap.Logger
	Metrics *Metrics

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Engine reconciles a LocalStore with a remote.Backend.
type Engine struct {
	store   LocalStore
	backend remote.Backend

	maxRetries  int
	retryPolicy RetryPolicy
	writePolicy WritePolicy
	collections []schema.Collection

	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
	bus     *Broadcaster

	// pubMu orders state changes so listeners see snapshots in the order
	// they were taken.
	pubMu sync.Mutex
	mu    sync.RWMutex
	state State

	// running guards against overlapping cycles.
	running atomic.Bool

	autoMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// New creates an engine. The initial status is idle, or offline when the
// backend is not configured.
func New(store LocalStore, backend remote.Backend, cfg Config) *Engine {
	if backend == nil {
		backend = remote.Disabled{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryPolicy == "" {
		cfg.RetryPolicy = RetainForManualReview
	}
	if cfg.WritePolicy == "" {
		cfg.WritePolicy = WriteDirect
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = schema.Tracked()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	logger := cfg.Logger.Named("sync")
	e := &Engine{
		store:       store,
		backend:     backend,
		maxRetries:  cfg.MaxRetries,
		retryPolicy: cfg.RetryPolicy,
		writePolicy: cfg.WritePolicy,
		collections: append([]schema.Collection(nil), cfg.Collections...),
		logger:      logger,
		metrics:     cfg.Metrics,
		now:         cfg.Clock,
		bus:         NewBroadcaster(logger),
		state:       State{Status: StatusIdle},
	}
	if !backend.IsConfigured() {
		e.state.Status = StatusOffline
	}
	e.refreshCounts(context.Background())
	return e
}

// GetState returns a snapshot of the current state. It does no I/O.
func (e *Engine) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.clone()
}

// Subscribe registers l for every subsequent state change and returns a
// function that removes it. Listeners are called in order, one state change
// at a time; they must not call methods that change the state.
func (e *Engine) Subscribe(l Listener) (unsubscribe func()) {
	return e.bus.Subscribe(l)
}

// SubscribeChan is Subscribe with channel delivery; see Broadcaster.SubscribeChan.
func (e *Engine) SubscribeChan(buf int) (<-chan State, func()) {
	return e.bus.SubscribeChan(buf)
}

// IsConfigured reports whether the backend has credentials.
func (e *Engine) IsConfigured() bool {
	return e.backend.IsConfigured()
}

// Refresh re-reads queue counters and broadcasts the result.
func (e *Engine) Refresh(ctx context.Context) {
	e.update(ctx, nil)
}

// update applies fn to the state, refreshes the queue counters and
// broadcasts the new snapshot.
func (e *Engine) update(ctx context.Context, fn func(*State)) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.mu.Lock()
	if fn != nil {
		fn(&e.state)
	}
	e.mu.Unlock()

	e.refreshCounts(ctx)

	snap := e.GetState()
	e.metrics.observeState(snap)
	e.bus.Publish(snap)
}

func (e *Engine) refreshCounts(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	pending, err := e.store.PendingCount(ctx)
	if err != nil {
		e.logger.Warn("failed to count pending queue items", zap.Error(err))
		return
	}
	dead, err := e.store.DeadLetterCount(ctx)
	if err != nil {
		e.logger.Warn("failed to count dead letters", zap.Error(err))
		return
	}

	e.mu.Lock()
	e.state.PendingChanges = pending
	e.state.DeadLetters = dead
	e.mu.Unlock()
}

// SyncAll runs one full cycle: drain the queue, then pull every collection
// for tenant (skipped when tenant is empty).
//
// It returns false without touching the state when the backend is not
// configured or another cycle is running. Failures set the error status
// and return false; they are never returned as errors or panics.
func (e *Engine) SyncAll(ctx context.Context, tenant string) bool {
	if !e.backend.IsConfigured() {
		return false
	}
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug("sync already running, skipping")
		return false
	}
	defer e.running.Store(false)

	return e.cycle(ctx, "full", func(ctx context.Context) error {
		if err := e.drain(ctx, ""); err != nil {
			return fmt.Errorf("push: %w", err)
		}
		if tenant == "" {
			return nil
		}
		if err := e.pull(ctx, tenant, e.collections); err != nil {
			return fmt.Errorf("pull: %w", err)
		}
		return nil
	}) == nil
}

// ForcePull pulls the given collections (all configured ones when none are
// given) for tenant, without a push phase.
func (e *Engine) ForcePull(ctx context.Context, tenant string, collections ...schema.Collection) error {
	if tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if len(collections) == 0 {
		collections = e.collections
	}
	for _, c := range collections {
		if !c.IsTracked() {
			return fmt.Errorf("collection %q is not tracked", c)
		}
	}
	return e.forced(ctx, "pull", func(ctx context.Context) error {
		return e.pull(ctx, tenant, collections)
	})
}

// ForcePush drains the queue without a pull phase. An empty tenant drains
// every item; otherwise only the tenant's items are pushed, in order.
func (e *Engine) ForcePush(ctx context.Context, tenant string) error {
	return e.forced(ctx, "push", func(ctx context.Context) error {
		return e.drain(ctx, tenant)
	})
}

func (e *Engine) forced(ctx context.Context, kind string, fn func(context.Context) error) error {
	if !e.backend.IsConfigured() {
		return remote.ErrUnconfigured
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer e.running.Store(false)

	return e.cycle(ctx, kind, fn)
}

// cycle wraps fn in the syncing → idle | error transitions. A panic in fn is
// converted into the error state.
func (e *Engine) cycle(ctx context.Context, kind string, fn func(context.Context) error) (err error) {
	start := e.now()
	log := e.logger.With(zap.String("kind", kind))

	e.update(ctx, func(s *State) {
		s.Status = StatusSyncing
	})
	log.Debug("sync started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
		}

		elapsed := e.now().Sub(start)
		e.metrics.observeCycle(kind, err == nil, elapsed)

		if err != nil {
			log.Error("sync failed", zap.Error(err), zap.Duration("elapsed", elapsed))
			e.update(ctx, func(s *State) {
				s.Status = StatusError
				s.Error = err.Error()
			})
			return
		}

		finished := e.now()
		log.Info("sync complete", zap.Duration("elapsed", elapsed))
		e.update(ctx, func(s *State) {
			s.Status = StatusIdle
			s.LastSyncedAt = &finished
			s.Error = ""
		})
	}()

	return fn(ctx)
}
