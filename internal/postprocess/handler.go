package postprocess

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
	"revoice/internal/services/ffmpeg"
	"revoice/internal/stage"
)

// Handler mixes the converted vocal with the instrumental stem.
type Handler struct {
	cfg       *config.Config
	artifacts *artifacts.Store
	logger    *slog.Logger
	client    ffmpeg.Mixer
}

// New constructs the postprocessing handler using default dependencies.
func New(cfg *config.Config, store *artifacts.Store, logger *slog.Logger) *Handler {
	client, err := ffmpeg.New(cfg.Mixing.Binary, cfg.Mixing.TimeoutSeconds)
	if err != nil {
		logger.Warn("ffmpeg client unavailable", logging.Error(err))
	}
	return NewWithClient(cfg, store, logger, client)
}

// NewWithClient allows injecting the mixer (used in tests).
func NewWithClient(cfg *config.Config, store *artifacts.Store, logger *slog.Logger, client ffmpeg.Mixer) *Handler {
	handlerLogger := logger
	if handlerLogger != nil {
		handlerLogger = handlerLogger.With(logging.String("component", "postprocess"))
	}
	return &Handler{cfg: cfg, artifacts: store, logger: handlerLogger, client: client}
}

// SetLogger swaps the handler logger.
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger.With(logging.String("component", "postprocess"))
	}
}

func (h *Handler) Prepare(ctx context.Context, req *stage.Request) error {
	params, ok := req.Params.(pipeline.PostprocessParams)
	if !ok {
		return services.Wrap(
			services.ErrValidation,
			string(pipeline.StagePostprocessing),
			"check params",
			"Postprocessing parameters are malformed",
			fmt.Errorf("unexpected params type %T", req.Params),
		)
	}
	for _, kind := range []artifacts.Kind{artifacts.KindConvertedVocal, artifacts.KindInstrumentalStem} {
		if _, err := h.artifacts.Get(ctx, req.Session.SessionID, kind); err != nil {
			return services.Wrap(
				services.ErrInputUnavailable,
				string(pipeline.StagePostprocessing),
				"locate mix inputs",
				fmt.Sprintf("Missing %s; run the earlier stages first", kind),
				err,
			)
		}
	}
	logging.WithContext(ctx, h.logger).Info(
		"starting mixdown",
		logging.String("preset", params.Preset),
		logging.Float64("vocal_gain_db", params.VocalGainDB),
		logging.Float64("instrumental_gain_db", params.InstrumentalGainDB),
	)
	return nil
}

func (h *Handler) Execute(ctx context.Context, req *stage.Request) error {
	logger := logging.WithContext(ctx, h.logger)
	params, _ := req.Params.(pipeline.PostprocessParams)
	if h.client == nil {
		return services.Wrap(
			services.ErrConfiguration,
			string(pipeline.StagePostprocessing),
			"check client",
			"ffmpeg client unavailable; check mixing.binary in the configuration",
			nil,
		)
	}

	vocal, err := h.artifacts.Get(ctx, req.Session.SessionID, artifacts.KindConvertedVocal)
	if err != nil {
		return services.Wrap(
			services.ErrInputUnavailable,
			string(pipeline.StagePostprocessing),
			"load converted vocal",
			"Converted vocal is missing; run conversion before postprocessing",
			err,
		)
	}
	instrumental, err := h.artifacts.Get(ctx, req.Session.SessionID, artifacts.KindInstrumentalStem)
	if err != nil {
		return services.Wrap(
			services.ErrInputUnavailable,
			string(pipeline.StagePostprocessing),
			"load instrumental stem",
			"Instrumental stem is missing; run separation before postprocessing",
			err,
		)
	}

	workDir := filepath.Join(h.cfg.SessionsDir(), req.Session.SessionID, "work", "postprocess")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StagePostprocessing),
			"create work dir",
			"Failed to create the postprocess working directory",
			err,
		)
	}
	defer os.RemoveAll(workDir)
	outPath := filepath.Join(workDir, "mix.wav")

	mixReq := ffmpeg.MixRequest{
		VocalPath:          vocal.Path,
		InstrumentalPath:   instrumental.Path,
		OutputPath:         outPath,
		Preset:             params.Preset,
		VocalGainDB:        params.VocalGainDB,
		InstrumentalGainDB: params.InstrumentalGainDB,
	}
	if err := h.client.Mix(ctx, mixReq); err != nil {
		return services.Wrap(
			services.ErrExternalTool,
			string(pipeline.StagePostprocessing),
			"ffmpeg mix",
			"Mixdown failed; check the stems and ffmpeg installation",
			err,
		)
	}

	file, err := os.Open(outPath)
	if err != nil {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StagePostprocessing),
			"open mix",
			"Failed to read the mixed output from disk",
			err,
		)
	}
	defer file.Close()
	if _, err := h.artifacts.Save(ctx, req.Session.SessionID, artifacts.KindMixedOutput, filepath.Base(outPath), file); err != nil {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StagePostprocessing),
			"store mix",
			"Failed to store the mixed output",
			err,
		)
	}

	logger.Info("mixdown completed", logging.String("preset", params.Preset))
	return nil
}

// HealthCheck verifies mixing dependencies.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	const name = "postprocess"
	if h.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if h.client == nil {
		return stage.Unhealthy(name, "ffmpeg client unavailable")
	}
	binary := strings.TrimSpace(h.cfg.Mixing.Binary)
	if binary == "" {
		return stage.Unhealthy(name, "ffmpeg binary not configured")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("ffmpeg binary %q not found", binary))
	}
	return stage.Healthy(name)
}
