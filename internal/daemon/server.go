package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"revoice/internal/api"
	"revoice/internal/artifacts"
	"revoice/internal/config"
	"revoice/internal/logging"
	"revoice/internal/observability"
	"revoice/internal/pipeline"
	"revoice/internal/services"
	"revoice/internal/session"
	"revoice/internal/workflow"
)

const multipartMemoryLimit = 32 << 20

type apiHandler struct {
	cfg       *config.Config
	manager   *workflow.Manager
	logger    *slog.Logger
	metrics   *observability.Metrics
	maxUpload int64
}

func newRouter(cfg *config.Config, manager *workflow.Manager, logger *slog.Logger, metrics *observability.Metrics, promHTTP http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &apiHandler{
		cfg:       cfg,
		manager:   manager,
		logger:    logging.NewComponentLogger(logger, "api"),
		metrics:   metrics,
		maxUpload: int64(cfg.Uploads.MaxSizeMiB) << 20,
	}

	r := chi.NewRouter()
	r.Use(h.instrument)

	r.Get("/healthz", h.handleHealth)
	if promHTTP != nil {
		r.Method(http.MethodGet, "/metrics", promHTTP)
	}

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.handleListSessions)
		r.Post("/", h.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Delete("/", h.handleDeleteSession)
			r.Get("/status", h.handleStatus)
			r.Post("/reference", h.handleUploadReference)
			r.Post("/stages/{stage}", h.handleStartStage)
			r.Post("/reset", h.handleReset)
			r.Get("/artifacts/{kind}", h.handleDownloadArtifact)
		})
	})
	return r
}

// instrument records request metrics and logs each completed request with
// the matched route pattern rather than the raw path.
func (h *apiHandler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		elapsed := time.Since(start)
		h.metrics.RecordHTTPRequest(r.Context(), r.Method, route, recorder.status, elapsed.Seconds())
		h.logger.Debug("request handled",
			logging.String("method", r.Method),
			logging.String("route", route),
			logging.Int("status", recorder.status),
			logging.Duration("duration", elapsed))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *apiHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseUpload(w, r)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}

	song, songHeader, err := r.FormFile("song")
	if err != nil {
		h.writeErrorStatus(w, http.StatusUnprocessableEntity, services.KindValidation, "A song file upload is required")
		return
	}
	defer song.Close()

	title := ""
	if values := form.Value["title"]; len(values) > 0 {
		title = strings.TrimSpace(values[0])
	}
	if title == "" {
		title = strings.TrimSuffix(songHeader.Filename, filepath.Ext(songHeader.Filename))
	}
	sess, err := h.manager.CreateSession(r.Context(), title)
	if err != nil {
		h.writeError(w, err)
		return
	}

	records := make([]api.ArtifactRecord, 0, 2)
	stored, err := h.manager.Artifacts().Save(r.Context(), sess.SessionID, artifacts.KindSourceAudio, songHeader.Filename, song)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.metrics.RecordArtifactStored(r.Context(), string(stored.Kind), stored.Size)
	records = append(records, artifactRecord(stored))

	if reference, refHeader, refErr := r.FormFile("reference_voice"); refErr == nil {
		defer reference.Close()
		refStored, err := h.manager.Artifacts().Save(r.Context(), sess.SessionID, artifacts.KindReferenceVoice, refHeader.Filename, reference)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.metrics.RecordArtifactStored(r.Context(), string(refStored.Kind), refStored.Size)
		records = append(records, artifactRecord(refStored))
	}

	h.writeJSON(w, http.StatusCreated, api.CreateSessionResponse{
		SessionID: sess.SessionID,
		Title:     sess.Title,
		Artifacts: records,
	})
}

func (h *apiHandler) handleUploadReference(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.manager.Session(r.Context(), sessionID); err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := h.parseUpload(w, r); err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	reference, header, err := r.FormFile("reference_voice")
	if err != nil {
		h.writeErrorStatus(w, http.StatusUnprocessableEntity, services.KindValidation, "A reference_voice file upload is required")
		return
	}
	defer reference.Close()

	stored, err := h.manager.Artifacts().Save(r.Context(), sessionID, artifacts.KindReferenceVoice, header.Filename, reference)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.metrics.RecordArtifactStored(r.Context(), string(stored.Kind), stored.Size)
	h.writeJSON(w, http.StatusOK, artifactRecord(stored))
}

func (h *apiHandler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.manager.Sessions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	summaries := make([]api.SessionSummary, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		hasSource := true
		if _, err := h.manager.Artifacts().Get(r.Context(), sess.SessionID, artifacts.KindSourceAudio); err != nil {
			if !errors.Is(err, services.ErrNotFound) {
				h.writeError(w, err)
				return
			}
			hasSource = false
		}
		flags := sess.Flags(hasSource)
		summaries = append(summaries, api.SessionSummary{
			SessionID:    sess.SessionID,
			Title:        sess.Title,
			CurrentStage: string(pipeline.CurrentStage(flags)),
			RunningStage: string(sess.RunningStage),
			FailedStage:  string(sess.FailedStage),
			HasSource:    hasSource,
			CreatedAt:    sess.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    sess.UpdatedAt.Format(time.RFC3339),
		})
	}
	h.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: summaries})
}

func (h *apiHandler) handleStartStage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	stageName, ok := pipeline.ParseStageName(chi.URLParam(r, "stage"))
	if !ok {
		h.writeErrorStatus(w, http.StatusNotFound, services.KindValidation,
			fmt.Sprintf("Unknown stage %q", chi.URLParam(r, "stage")))
		return
	}

	var req api.StartStageRequest
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			h.writeErrorStatus(w, http.StatusBadRequest, services.KindValidation, "Could not read request body")
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				h.writeErrorStatus(w, http.StatusBadRequest, services.KindValidation, "Request body must be a JSON object")
				return
			}
		}
	}

	if err := h.manager.StartStage(r.Context(), sessionID, stageName, req.Params); err != nil {
		h.writeError(w, err)
		return
	}
	status, err := h.manager.Status(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.StartStageResponse{Status: status})
}

func (h *apiHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.StatusResponse{Status: status})
}

func (h *apiHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	stageName, ok := pipeline.ParseStageName(from)
	if !ok {
		h.writeErrorStatus(w, http.StatusUnprocessableEntity, services.KindValidation,
			"Query parameter 'from' must name a pipeline stage")
		return
	}
	if err := h.manager.ResetFrom(r.Context(), sessionID, stageName); err != nil {
		h.writeError(w, err)
		return
	}
	status, err := h.manager.Status(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.StatusResponse{Status: status})
}

func (h *apiHandler) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	kind, ok := artifacts.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		h.writeErrorStatus(w, http.StatusNotFound, services.KindValidation,
			fmt.Sprintf("Unknown artifact kind %q", chi.URLParam(r, "kind")))
		return
	}
	artifact, err := h.manager.Artifacts().Get(r.Context(), sessionID, kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	file, err := os.Open(artifact.Path)
	if err != nil {
		h.writeErrorStatus(w, http.StatusInternalServerError, services.KindStorage,
			"Stored artifact file could not be opened")
		return
	}
	defer file.Close()
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.FileName))
	http.ServeContent(w, r, artifact.FileName, artifact.CreatedAt, file)
}

func (h *apiHandler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := h.manager.Health(r.Context())
	payload := api.HealthResponse{Healthy: true, Stages: make([]api.StageHealth, 0, len(checks))}
	for _, check := range checks {
		if !check.Ready {
			payload.Healthy = false
		}
		payload.Stages = append(payload.Stages, api.StageHealth{
			Name:   check.Name,
			Ready:  check.Ready,
			Detail: check.Detail,
		})
	}
	status := http.StatusOK
	if !payload.Healthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, payload)
}

// parseUpload enforces the configured upload size limit before the multipart
// body is consumed.
func (h *apiHandler) parseUpload(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		return nil, err
	}
	return r.MultipartForm, nil
}

func (h *apiHandler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		h.metrics.RecordUploadRejected(r.Context(), "too_large")
		h.writeErrorStatus(w, http.StatusRequestEntityTooLarge, services.KindValidation,
			fmt.Sprintf("Upload exceeds the %d MiB limit", h.cfg.Uploads.MaxSizeMiB))
		return
	}
	h.metrics.RecordUploadRejected(r.Context(), "malformed")
	h.writeErrorStatus(w, http.StatusBadRequest, services.KindValidation, "Request must be a multipart file upload")
}

func (h *apiHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *apiHandler) writeError(w http.ResponseWriter, err error) {
	status := api.HTTPStatus(err)
	envelope := api.ErrorEnvelope(err)
	if errors.Is(err, session.ErrSessionNotFound) {
		envelope.Kind = string(services.KindNotFound)
	}
	if errors.Is(err, session.ErrSessionBusy) {
		envelope.Kind = "busy"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", logging.Error(err))
	}
	h.writeJSON(w, status, envelope)
}

func (h *apiHandler) writeErrorStatus(w http.ResponseWriter, status int, kind services.Kind, message string) {
	h.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: string(kind)})
}

func artifactRecord(artifact *artifacts.Artifact) api.ArtifactRecord {
	return api.ArtifactRecord{
		Kind:      string(artifact.Kind),
		FileName:  artifact.FileName,
		Size:      artifact.Size,
		Checksum:  artifact.Checksum,
		CreatedAt: artifact.CreatedAt.Format(time.RFC3339),
	}
}
