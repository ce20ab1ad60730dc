package workflow

import (
	"context"
	"log/slog"

	"revoice/internal/analysis"
	"revoice/internal/artifacts"
	"revoice/internal/config"
	"revoice/internal/conversion"
	"revoice/internal/logging"
	"revoice/internal/observability"
	"revoice/internal/pipeline"
	"revoice/internal/postprocess"
	"revoice/internal/separation"
	"revoice/internal/services"
	"revoice/internal/session"
	"revoice/internal/stage"
)

// Manager coordinates session state, stage execution, and the artifact store.
// Stage runs execute synchronously under a per-session claim so at most one
// stage per session is running at any time.
type Manager struct {
	cfg       *config.Config
	store     *session.Store
	artifacts *artifacts.Store
	logger    *slog.Logger
	metrics   *observability.Metrics
	handlers  map[pipeline.StageName]stage.Handler
}

// NewManager constructs a workflow manager with the default stage handlers.
func NewManager(cfg *config.Config, store *session.Store, artifactStore *artifacts.Store, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	handlers := map[pipeline.StageName]stage.Handler{
		pipeline.StageSeparation:     separation.New(cfg, artifactStore, logger),
		pipeline.StageConversion:     conversion.New(cfg, artifactStore, logger),
		pipeline.StagePostprocessing: postprocess.New(cfg, artifactStore, logger),
		pipeline.StageAnalysis:       analysis.New(cfg, artifactStore, logger),
	}
	return NewManagerWithHandlers(cfg, store, artifactStore, logger, metrics, handlers)
}

// NewManagerWithHandlers allows injecting stage handlers (used in tests).
func NewManagerWithHandlers(cfg *config.Config, store *session.Store, artifactStore *artifacts.Store, logger *slog.Logger, metrics *observability.Metrics, handlers map[pipeline.StageName]stage.Handler) *Manager {
	managerLogger := logger
	if managerLogger == nil {
		managerLogger = logging.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		artifacts: artifactStore,
		logger:    managerLogger.With(logging.String("component", "workflow")),
		metrics:   metrics,
		handlers:  handlers,
	}
}

// CreateSession registers a new session.
func (m *Manager) CreateSession(ctx context.Context, title string) (*session.Session, error) {
	sess, err := m.store.Create(ctx, title)
	if err != nil {
		return nil, err
	}
	m.metrics.RecordSessionCreated(ctx)
	m.logger.Info(
		"session created",
		logging.String(logging.FieldSessionID, sess.SessionID),
		logging.String("title", sess.Title),
	)
	return sess, nil
}

// Session fetches a session by identifier.
func (m *Manager) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	return m.store.Get(ctx, sessionID)
}

// Sessions lists all sessions.
func (m *Manager) Sessions(ctx context.Context) ([]session.Session, error) {
	return m.store.List(ctx)
}

// Artifacts returns the artifact store used by the manager.
func (m *Manager) Artifacts() *artifacts.Store {
	return m.artifacts
}

// hasSource reports whether a session has its source audio uploaded.
func (m *Manager) hasSource(ctx context.Context, sessionID string) (bool, error) {
	if _, err := m.artifacts.Get(ctx, sessionID, artifacts.KindSourceAudio); err != nil {
		if services.Classify(err) == services.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
