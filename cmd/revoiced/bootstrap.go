package main

import (
	"context"
	"fmt"
	"path/filepath"

	"log/slog"

	"revoice/internal/artifacts"
	"revoice/internal/config"
	"revoice/internal/daemon"
	"revoice/internal/logging"
	"revoice/internal/observability"
	"revoice/internal/session"
	"revoice/internal/workflow"
)

func newDaemonLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "revoiced.log")},
	})
}

func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := session.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	metrics, promHTTP, err := observability.NewMetrics(ctx)
	if err != nil {
		logger.Warn("metrics disabled", logging.Error(err))
		metrics = nil
		promHTTP = nil
	}

	artifactStore := artifacts.NewStore(store.DB(), cfg.SessionsDir())
	manager := workflow.NewManager(cfg, store, artifactStore, logger, metrics)

	d, err := daemon.New(cfg, store, manager, logger, metrics, promHTTP)
	if err != nil {
		store.Close()
		return nil, err
	}
	return d, nil
}
