package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"revoice/internal/config"
	"revoice/internal/logging"
	"revoice/internal/observability"
	"revoice/internal/session"
	"revoice/internal/workflow"
)

// Daemon hosts the pipeline manager behind the HTTP API and enforces
// single-instance execution through a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *session.Store
	manager  *workflow.Manager
	metrics  *observability.Metrics
	promHTTP http.Handler

	lockPath string
	lock     *flock.Flock

	listener net.Listener
	server   *http.Server
	running  atomic.Bool
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *session.Store, manager *workflow.Manager, logger *slog.Logger, metrics *observability.Metrics, promHTTP http.Handler) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil {
		return nil, errors.New("daemon requires config, session store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockFilePath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		manager:  manager,
		metrics:  metrics,
		promHTTP: promHTTP,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, clears claims left behind by a crashed
// process, and begins serving the HTTP API. It returns once the listener is
// accepting connections; serving continues until ctx is canceled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another revoiced instance is already running")
	}

	released, err := d.store.ReleaseStaleClaims(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("release stale claims: %w", err)
	}
	if released > 0 {
		d.logger.Warn("released stale stage claims from previous run", logging.Int64("count", released))
	}

	listener, err := net.Listen("tcp", d.cfg.Paths.APIBind)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("api listen: %w", err)
	}
	d.listener = listener

	d.server = &http.Server{
		Handler:           newRouter(d.cfg, d.manager, d.logger, d.metrics, d.promHTTP),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		d.Stop()
	}()

	d.running.Store(true)
	d.logger.Info("revoiced started",
		logging.String("address", listener.Addr().String()),
		logging.String("lock", d.lockPath))
	return nil
}

// Stop drains in-flight requests and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.server.Shutdown(shutdownCtx)
	}
	if d.listener != nil {
		_ = d.listener.Close()
		d.listener = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("revoiced stopped")
}

// Close stops the daemon and closes the session store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr reports the bound listen address, empty until Start succeeds.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}
