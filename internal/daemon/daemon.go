// Package daemon runs specsync in the background.
//
// The daemon:
// 1. Starts periodic sync cycles for the configured tenant
// 2. Serves the status dashboard, when one is attached
// 3. Watches an inbox directory and imports dropped *.jsonl files
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/specexplorer/specsync/internal/transfer"
)

// Inbox subdirectories that receive files after an import attempt.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Config holds configuration for the daemon.
type Config struct {
	// Tenant whose data is synced and imported
	Tenant string

	// SyncInterval between auto-sync cycles
	SyncInterval time.Duration

	// InboxDir is watched for *.jsonl imports; empty disables the watcher
	InboxDir string

	// DebounceInterval is how long a file must stay quiet before it is imported.
	// This batches the create and write events of a single copy together
	DebounceInterval time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     time.Minute,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           zap.NewNop(),
	}
}

// Engine is the part of *sync.Engine the daemon drives.
type Engine interface {
	transfer.Saver
	StartAutoSync(ctx context.Context, interval time.Duration, tenant string) bool
	StopAutoSync()
}

// Service is a component with a start/stop lifecycle, such as the dashboard.
type Service interface {
	Start() error
	Stop() error
}

// Daemon ties auto-sync, the dashboard and the inbox watcher together.
type Daemon struct {
	engine   Engine
	services []Service
	config   *Config
	logger   *zap.Logger

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. Services are started by Run and stopped by Stop.
func New(engine Engine, config *Config, services ...Service) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.InboxDir != "" && config.Tenant == "" {
		return nil, fmt.Errorf("inbox imports need a tenant")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var watcher *fsnotify.Watcher
	if config.InboxDir != "" {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      engine,
		services:    services,
		config:      config,
		logger:      logger.Named("daemon"),
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Run starts everything and blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting daemon", zap.String("tenant", d.config.Tenant))

	for _, svc := range d.services {
		if err := svc.Start(); err != nil {
			d.Stop()
			return fmt.Errorf("failed to start service: %w", err)
		}
	}

	if d.watcher != nil {
		if err := d.startInbox(); err != nil {
			d.Stop()
			return err
		}
	}

	if !d.engine.StartAutoSync(d.ctx, d.config.SyncInterval, d.config.Tenant) {
		d.logger.Warn("remote backend not configured, running offline")
	}

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

func (d *Daemon) startInbox() error {
	dir := d.config.InboxDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}
	if err := d.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", dir, err)
	}
	d.logger.Info("watching inbox", zap.String("dir", dir))

	// Files dropped while the daemon was down.
	existing, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return err
	}
	sort.Strings(existing)
	for _, path := range existing {
		d.importFile(path)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	return nil
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	var firstErr error
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")
		d.cancel()
		d.engine.StopAutoSync()

		if d.watcher != nil {
			if err := d.watcher.Close(); err != nil {
				d.logger.Warn("error closing watcher", zap.Error(err))
			}
		}

		for i := len(d.services) - 1; i >= 0; i-- {
			if err := d.services[i].Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		d.wg.Wait()
		d.logger.Info("daemon stopped")
	})
	return firstErr
}

// watchFileEvents monitors the inbox and queues changed files.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Ext(event.Name) != ".jsonl" {
				continue
			}
			d.logger.Debug("file event", zap.String("op", event.Op.String()), zap.String("path", event.Name))
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they have been quiet for a
// full debounce interval.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			for _, path := range d.dueChanges(time.Now()) {
				d.importFile(path)
			}
		}
	}
}

func (d *Daemon) dueChanges(now time.Time) []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	var due []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		due = append(due, path)
		delete(d.changeQueue, path)
	}
	sort.Strings(due)
	return due
}

// importFile imports one inbox file and moves it out of the inbox.
func (d *Daemon) importFile(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}
	log := d.logger.With(zap.String("path", path))

	res, err := transfer.ImportFile(d.ctx, d.engine, path, transfer.ImportOptions{Tenant: d.config.Tenant})
	if err != nil {
		log.Error("import failed", zap.Error(err))
		d.move(path, FailedDir)
		return
	}
	for _, msg := range res.Errors {
		log.Warn("import error", zap.String("error", msg))
	}
	log.Info("imported inbox file",
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", len(res.Errors)))
	d.move(path, ProcessedDir)
}

func (d *Daemon) move(path, sub string) {
	dir := filepath.Join(filepath.Dir(path), sub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		d.logger.Error("failed to create directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		d.logger.Error("failed to move inbox file", zap.String("path", path), zap.Error(err))
	}
}
