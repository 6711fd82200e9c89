package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/specexplorer/specsync/internal/config"
	"github.com/specexplorer/specsync/internal/logging"
	"github.com/specexplorer/specsync/internal/remote"
	"github.com/specexplorer/specsync/internal/store"
	"github.com/specexplorer/specsync/internal/sync"
)

// app holds everything a command needs. Build it with newApp and release it
// with Close.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	backend  remote.Backend
	engine   *sync.Engine
	registry *prometheus.Registry

	closeLog func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if tenantFlag != "" {
		cfg.Tenant = tenantFlag
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logOpts := cfg.LogOptions()
	logOpts.Output = cmd.ErrOrStderr()
	logger, closeLog, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, closeLog: closeLog}
	if err := a.open(cmd.Context()); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	st, err := store.Open(a.cfg.DBPath)
	if err != nil {
		return err
	}
	a.store = st
	if err := st.InitSchema(ctx); err != nil {
		return err
	}

	backend, err := remote.Open(a.cfg.RemoteOptions(a.logger))
	if err != nil {
		return err
	}
	a.backend = backend

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := sync.NewMetrics(a.registry)
	if err != nil {
		return err
	}

	a.engine = sync.New(st, backend, a.cfg.EngineOptions(a.logger, metrics))
	return nil
}

// requireTenant returns the configured tenant or an error naming the flag.
func (a *app) requireTenant() (string, error) {
	if a.cfg.Tenant == "" {
		return "", fmt.Errorf("no tenant configured (use --tenant or set tenant in the config file)")
	}
	return a.cfg.Tenant, nil
}

func (a *app) Close() {
	if c, ok := a.backend.(io.Closer); ok {
		_ = c.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}
