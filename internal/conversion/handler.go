package conversion

import (
	"context"
	"errors"
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
	"revoice/internal/services/rvc"
	"revoice/internal/stage"
)

// Handler runs voice conversion on the separated vocal stem.
type Handler struct {
	cfg       *config.Config
	artifacts *artifacts.Store
	logger    *slog.Logger
	client    rvc.Converter
}

// New constructs the conversion handler using default dependencies.
func New(cfg *config.Config, store *artifacts.Store, logger *slog.Logger) *Handler {
	client, err := rvc.New(cfg.Conversion.Binary, cfg.Conversion.ModelDir, cfg.Conversion.TimeoutSeconds)
	if err != nil {
		logger.Warn("rvc client unavailable", logging.Error(err))
	}
	return NewWithClient(cfg, store, logger, client)
}

// NewWithClient allows injecting the converter (used in tests).
func NewWithClient(cfg *config.Config, store *artifacts.Store, logger *slog.Logger, client rvc.Converter) *Handler {
	handlerLogger := logger
	if handlerLogger != nil {
		handlerLogger = handlerLogger.With(logging.String("component", "conversion"))
	}
	return &Handler{cfg: cfg, artifacts: store, logger: handlerLogger, client: client}
}

// SetLogger swaps the handler logger.
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger.With(logging.String("component", "conversion"))
	}
}

func (h *Handler) Prepare(ctx context.Context, req *stage.Request) error {
	params, ok := req.Params.(pipeline.ConversionParams)
	if !ok {
		return services.Wrap(
			services.ErrValidation,
			string(pipeline.StageConversion),
			"check params",
			"Conversion parameters are malformed",
			fmt.Errorf("unexpected params type %T", req.Params),
		)
	}
	if _, err := h.artifacts.Get(ctx, req.Session.SessionID, artifacts.KindVocalStem); err != nil {
		return services.Wrap(
			services.ErrInputUnavailable,
			string(pipeline.StageConversion),
			"locate vocal stem",
			"No vocal stem available; run separation first",
			err,
		)
	}
	logging.WithContext(ctx, h.logger).Info(
		"starting conversion",
		logging.String("model_id", params.ModelID),
		logging.Int("pitch_shift", params.PitchShift),
		logging.Float64("formant_shift", params.FormantShift),
		logging.String("algorithm", params.Algorithm),
	)
	return nil
}

func (h *Handler) Execute(ctx context.Context, req *stage.Request) error {
	logger := logging.WithContext(ctx, h.logger)
	params, _ := req.Params.(pipeline.ConversionParams)
	if h.client == nil {
		return services.Wrap(
			services.ErrConfiguration,
			string(pipeline.StageConversion),
			"check client",
			"RVC client unavailable; check conversion.binary in the configuration",
			nil,
		)
	}

	vocal, err := h.artifacts.Get(ctx, req.Session.SessionID, artifacts.KindVocalStem)
	if err != nil {
		return services.Wrap(
			services.ErrInputUnavailable,
			string(pipeline.StageConversion),
			"load vocal stem",
			"Vocal stem is missing; run separation before conversion",
			err,
		)
	}

	// A reference voice upload is optional; it steers timbre when present.
	referencePath := ""
	if reference, err := h.artifacts.Get(ctx, req.Session.SessionID, artifacts.KindReferenceVoice); err == nil {
		referencePath = reference.Path
	} else if !errors.Is(err, services.ErrNotFound) {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StageConversion),
			"load reference voice",
			"Failed to look up the reference voice upload",
			err,
		)
	}

	workDir := filepath.Join(h.cfg.SessionsDir(), req.Session.SessionID, "work", "conversion")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StageConversion),
			"create work dir",
			"Failed to create the conversion working directory",
			err,
		)
	}
	defer os.RemoveAll(workDir)
	outPath := filepath.Join(workDir, "converted.wav")

	convertReq := rvc.Request{
		InputPath:     vocal.Path,
		OutputPath:    outPath,
		ModelID:       params.ModelID,
		ReferencePath: referencePath,
		PitchShift:    params.PitchShift,
		FormantShift:  params.FormantShift,
		Algorithm:     params.Algorithm,
	}
	if err := h.client.Convert(ctx, convertReq); err != nil {
		return services.Wrap(
			services.ErrExternalTool,
			string(pipeline.StageConversion),
			"rvc convert",
			"Voice conversion failed; check the voice model and RVC installation",
			err,
		)
	}

	file, err := os.Open(outPath)
	if err != nil {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StageConversion),
			"open converted vocal",
			"Failed to read the converted vocal from disk",
			err,
		)
	}
	defer file.Close()
	if _, err := h.artifacts.Save(ctx, req.Session.SessionID, artifacts.KindConvertedVocal, filepath.Base(outPath), file); err != nil {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StageConversion),
			"store converted vocal",
			"Failed to store the converted vocal",
			err,
		)
	}

	logger.Info("conversion completed", logging.String("model_id", params.ModelID))
	return nil
}

// HealthCheck verifies conversion dependencies.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	const name = "conversion"
	if h.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if h.client == nil {
		return stage.Unhealthy(name, "rvc client unavailable")
	}
	binary := strings.TrimSpace(h.cfg.Conversion.Binary)
	if binary == "" {
		return stage.Unhealthy(name, "rvc binary not configured")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("rvc binary %q not found", binary))
	}
	if dir := strings.TrimSpace(h.cfg.Conversion.ModelDir); dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return stage.Unhealthy(name, fmt.Sprintf("model directory %q not readable", dir))
		}
	}
	return stage.Healthy(name)
}
