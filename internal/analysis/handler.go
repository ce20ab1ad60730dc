package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"revoice/internal/artifacts"
	"revoice/internal/config"
	"revoice/internal/logging"
	"revoice/internal/pipeline"
	"revoice/internal/services"
	"revoice/internal/services/llm"
	"revoice/internal/stage"
)

// Analyzer abstracts the model client used for lyric analysis and artwork.
type Analyzer interface {
	AnalyzeTrack(ctx context.Context, lyrics, genreHint string) (llm.TrackAnalysis, error)
	GenerateCoverArt(ctx context.Context, prompt string) ([]byte, error)
	HealthCheck(ctx context.Context) error
}

// Report is the JSON document stored as the analysis_report artifact.
type Report struct {
	Mood       string   `json:"mood"`
	Genre      string   `json:"genre"`
	Tempo      string   `json:"tempo,omitempty"`
	Themes     []string `json:"themes,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	ArtPrompt  string   `json:"art_prompt,omitempty"`
	Confidence float64  `json:"confidence"`
	CoverArt   bool     `json:"cover_art"`
}

// Handler runs lyric analysis and optional cover art generation.
type Handler struct {
	cfg       *config.Config
	artifacts *artifacts.Store
	logger    *slog.Logger
	client    Analyzer
}

// New constructs the analysis handler using default dependencies.
func New(cfg *config.Config, store *artifacts.Store, logger *slog.Logger) *Handler {
	client := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
	return NewWithClient(cfg, store, logger, client)
}

// NewWithClient allows injecting the analyzer (used in tests).
func NewWithClient(cfg *config.Config, store *artifacts.Store, logger *slog.Logger, client Analyzer) *Handler {
	handlerLogger := logger
	if handlerLogger != nil {
		handlerLogger = handlerLogger.With(logging.String("component", "analysis"))
	}
	return &Handler{cfg: cfg, artifacts: store, logger: handlerLogger, client: client}
}

// SetLogger swaps the handler logger.
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger.With(logging.String("component", "analysis"))
	}
}

func (h *Handler) Prepare(ctx context.Context, req *stage.Request) error {
	params, ok := req.Params.(pipeline.AnalysisParams)
	if !ok {
		return services.Wrap(
			services.ErrValidation,
			string(pipeline.StageAnalysis),
			"check params",
			"Analysis parameters are malformed",
			fmt.Errorf("unexpected params type %T", req.Params),
		)
	}
	if strings.TrimSpace(params.Lyrics) == "" {
		return services.Wrap(
			services.ErrValidation,
			string(pipeline.StageAnalysis),
			"check lyrics",
			"Lyrics are required for analysis",
			nil,
		)
	}
	if _, err := h.artifacts.Get(ctx, req.Session.SessionID, artifacts.KindMixedOutput); err != nil {
		return services.Wrap(
			services.ErrInputUnavailable,
			string(pipeline.StageAnalysis),
			"locate mixed output",
			"No mixed output available; run postprocessing first",
			err,
		)
	}
	logging.WithContext(ctx, h.logger).Info(
		"starting analysis",
		logging.String("genre_hint", params.GenreHint),
		logging.Bool("generate_art", params.GenerateArt),
	)
	return nil
}

func (h *Handler) Execute(ctx context.Context, req *stage.Request) error {
	logger := logging.WithContext(ctx, h.logger)
	params, _ := req.Params.(pipeline.AnalysisParams)
	if h.client == nil {
		return services.Wrap(
			services.ErrConfiguration,
			string(pipeline.StageAnalysis),
			"check client",
			"Model client unavailable; check llm.api_key in the configuration",
			nil,
		)
	}

	result, err := h.client.AnalyzeTrack(ctx, params.Lyrics, params.GenreHint)
	if err != nil {
		return services.Wrap(
			services.ErrExternalTool,
			string(pipeline.StageAnalysis),
			"analyze track",
			"Lyric analysis failed; check the model API key and connectivity",
			err,
		)
	}

	report := Report{
		Mood:       result.Mood,
		Genre:      result.Genre,
		Tempo:      result.Tempo,
		Themes:     result.Themes,
		Summary:    result.Summary,
		ArtPrompt:  result.ArtPrompt,
		Confidence: result.Confidence,
		CoverArt:   params.GenerateArt,
	}

	if params.GenerateArt {
		prompt := result.ArtPrompt
		if prompt == "" {
			prompt = fmt.Sprintf("album cover for a %s %s song", report.Mood, report.Genre)
		}
		image, err := h.client.GenerateCoverArt(ctx, prompt)
		if err != nil {
			return services.Wrap(
				services.ErrExternalTool,
				string(pipeline.StageAnalysis),
				"generate cover art",
				"Cover art generation failed; retry or disable generate_art",
				err,
			)
		}
		if _, err := h.artifacts.Save(ctx, req.Session.SessionID, artifacts.KindCoverArt, "cover.png", bytes.NewReader(image)); err != nil {
			return services.Wrap(
				services.ErrStorage,
				string(pipeline.StageAnalysis),
				"store cover art",
				"Failed to store the generated cover art",
				err,
			)
		}
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StageAnalysis),
			"encode report",
			"Failed to encode the analysis report",
			err,
		)
	}
	if _, err := h.artifacts.Save(ctx, req.Session.SessionID, artifacts.KindAnalysisReport, "report.json", bytes.NewReader(encoded)); err != nil {
		return services.Wrap(
			services.ErrStorage,
			string(pipeline.StageAnalysis),
			"store report",
			"Failed to store the analysis report",
			err,
		)
	}

	logger.Info(
		"analysis completed",
		logging.String("mood", report.Mood),
		logging.String("genre", report.Genre),
		logging.Bool("cover_art", params.GenerateArt),
	)
	return nil
}

// HealthCheck verifies the model API is reachable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	const name = "analysis"
	if h.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if h.client == nil {
		return stage.Unhealthy(name, "model client unavailable")
	}
	if strings.TrimSpace(h.cfg.LLM.APIKey) == "" {
		return stage.Unhealthy(name, "llm api key not configured")
	}
	if err := h.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(name, err.Error())
	}
	return stage.Healthy(name)
}
