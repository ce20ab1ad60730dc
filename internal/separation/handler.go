package separation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"revoice/internal/artifacts"
	"revoice/internal/config"
	"revoice/internal/logging"
	"revoice/internal/pipeline"
	"revoice/internal/services"
	"revoice/internal/services/demucs"
	"revoice/internal/stage"
)

// Handler runs vocal separation on the uploaded source audio.
type Handler struct {
	cfg       *config.Config
	artifacts *artifacts.Store
	logger    *slog.Logger
	client    demucs.Separator
}

// New constructs the separation handler using default dependencies.
func New(cfg *config.Config, store *artifacts.Store, logger *slog.Logger) *Handler {
	client, err := demucs.New(cfg.Separation.Binary, cfg.Separation.Model, cfg.Separation.TimeoutSeconds)
	if err != nil {
		logger.Warn("demucs client unavailable", logging.Error(err))
	}
	return NewWithClient(cfg, store, logger, client)
}

// NewWithClient allows injecting the separator (used in tests).
func NewWithClient(cfg *config.Config, store *artifacts.Store, logger *slog.Logger, client demucs.Separator) *Handler {
	handlerLogger := logger
	if handlerLogger != nil {
		handlerLogger = handlerLogger.With(logging.String("component", "separation"))
	}
	return &Handler{cfg: cfg, artifacts: store, logger: handlerLogger, client: client}
}

// SetLogger swaps the handler logger.
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger.With(logging.String("component", "separation"))
	}
}

func (h *Handler) Prepare(ctx context.Context, req *stage.Request) error {
	params, ok := req.Params.(pipeline.SeparationParams)
	if !ok {
		return services.Wrap(
			services.ErrValidation,
			string(pipeline.StageSeparation),
			"check params",
			"Separation parameters are malformed",
			fmt.Errorf("unexpected params type %T", req.Params),
		)
	}
	if _, err := h.artifacts.Get(ctx, req.Session.SessionID, artifacts.KindSourceAudio); err != nil {
		return services.Wrap(
			services.ErrInputUnavailable,
			string(pipeline.StageSeparation),
			"locate source audio",
			"No source audio uploaded for this session",
			err,
		)
	}
	logging.WithContext(ctx, h.logger).Info(
		"starting separation",
		logging.String("model", params.Model),
		logging.Int("sample_rate", params.SampleRate),
	)
	return nil
}

func (h *Handler) Execute(ctx context.Context, req *stage.Request) error {
	logger := logging.WithContext(ctx, h.logger)
	params, _ := req.Params.(pipeline.SeparationParams)
	if h.client == nil {
		return services.Wrap(
			services.ErrConfiguration,
			string(pipeline.StageSeparation),
			"check client",
			"Demucs client unavailable; check separation.binary in the configuration",
			nil,
		)
	}

	source, err := h.artifacts.Get(ctx, req.Session.SessionID, artifacts.KindSourceAudio)
	if err != nil {
		return services.Wrap(
			services.ErrInputUnavailable,
			string(pipeline.StageSeparation),
			"load source audio",
			"Source audio is missing; upload it before starting separation",
			err,
		)
	}

	workDir := filepath.Join(h.cfg.SessionsDir(), req.Session.SessionID, "work", "separation")
	defer os.RemoveAll(workDir)

	result, err := h.client.Separate(ctx, source.Path, workDir, params.Model, params.SampleRate)
	if err != nil {
		return services.Wrap(
			services.ErrExternalTool,
			string(pipeline.StageSeparation),
			"demucs separate",
			"Vocal separation failed; check the source audio and demucs installation",
			err,
		)
	}

	if err := h.saveStem(ctx, req.Session.SessionID, artifacts.KindVocalStem, result.VocalPath); err != nil {
		return err
	}
	if err := h.saveStem(ctx, req.Session.SessionID, artifacts.KindInstrumentalStem, result.InstrumentalPath); err != nil {
		return err
	}

	logger.Info(
		"separation completed",
		logging.String("vocal_stem", filepath.Base(result.VocalPath)),
		logging.String("instrumental_stem", filepath.Base(result.InstrumentalPath)),
	)
	return nil
}

func (h *Handler) saveStem(ctx context.Context, sessionID string, kind artifacts.Kind, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StageSeparation),
			"open stem",
			"Failed to read a separated stem from disk",
			err,
		)
	}
	defer file.Close()
	if _, err := h.artifacts.Save(ctx, sessionID, kind, filepath.Base(path), file); err != nil {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StageSeparation),
			"store stem",
			"Failed to store a separated stem",
			err,
		)
	}
	return nil
}

// HealthCheck verifies separation dependencies.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	const name = "separation"
	if h.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if h.client == nil {
		return stage.Unhealthy(name, "demucs client unavailable")
	}
	binary := strings.TrimSpace(h.cfg.Separation.Binary)
	if binary == "" {
		return stage.Unhealthy(name, "demucs binary not configured")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("demucs binary %q not found", binary))
	}
	return stage.Healthy(name)
}
