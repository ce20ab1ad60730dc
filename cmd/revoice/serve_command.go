package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"revoice/internal/artifacts"
	"revoice/internal/daemon"
	"revoice/internal/logging"
	"revoice/internal/observability"
	"revoice/internal/session"
	"revoice/internal/workflow"
)

// newServeCommand runs the daemon in the foreground, which is handy during
// development and under process supervisors; revoiced is the standalone
// equivalent.
func newServeCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the revoice daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("prepare directories: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "revoiced.log")},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := session.Open(cfg)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
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
				return err
			}
			defer d.Close()

			if err := d.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
}
