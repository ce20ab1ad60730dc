package api

import (
	"encoding/json"

	"revoice/internal/workflow"
)

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	SessionID    string `json:"session_id"`
	Title        string `json:"title"`
	CurrentStage string `json:"current_stage,omitempty"`
	RunningStage string `json:"running_stage,omitempty"`
	FailedStage  string `json:"failed_stage,omitempty"`
	HasSource    bool   `json:"has_source"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// SessionListResponse wraps the session listing endpoint payload.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// CreateSessionResponse is returned after a session has been created and its
// source audio stored.
type CreateSessionResponse struct {
	SessionID string           `json:"session_id"`
	Title     string           `json:"title"`
	Artifacts []ArtifactRecord `json:"artifacts,omitempty"`
}

// ArtifactRecord describes one stored artifact in API responses.
type ArtifactRecord struct {
	Kind      string `json:"kind"`
	FileName  string `json:"file_name"`
	Size      int64  `json:"size"`
	Checksum  string `json:"checksum"`
	CreatedAt string `json:"created_at"`
}

// StartStageRequest carries the stage parameter document. The params object
// is passed through opaque to the daemon, which validates it against the
// stage's schema before any state changes.
type StartStageRequest struct {
	Params json.RawMessage `json:"params,omitempty"`
}

// StartStageResponse reports the snapshot taken after a stage run finishes.
type StartStageResponse struct {
	Status *workflow.Status `json:"status"`
}

// StatusResponse wraps the polled session snapshot.
type StatusResponse struct {
	Status *workflow.Status `json:"status"`
}

// StageHealth mirrors one stage handler's readiness probe.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Healthy bool          `json:"healthy"`
	Stages  []StageHealth `json:"stages"`
}

// ErrorResponse is the uniform error envelope for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
