package workflow

import (
	"context"

	"revoice/internal/artifacts"
	"revoice/internal/pipeline"
	"revoice/internal/services"
)

// StageStatus reports one stage's derived state within a snapshot.
type StageStatus struct {
	Name  pipeline.StageName `json:"name"`
	State pipeline.State     `json:"state"`
}

// Status is a point-in-time snapshot of a session: derived stage states,
// the current stage pointer, the last failure, and the stored artifacts.
// All fields come from a single read of the session row, so the snapshot
// is internally consistent.
type Status struct {
	SessionID    string               `json:"session_id"`
	Title        string               `json:"title"`
	Stages       []StageStatus        `json:"stages"`
	CurrentStage pipeline.StageName   `json:"current_stage,omitempty"`
	RunningStage pipeline.StageName   `json:"running_stage,omitempty"`
	FailedStage  pipeline.StageName   `json:"failed_stage,omitempty"`
	LastError    string               `json:"last_error,omitempty"`
	ErrorKind    services.Kind        `json:"error_kind,omitempty"`
	HasSource    bool                 `json:"has_source"`
	Artifacts    []artifacts.Artifact `json:"artifacts"`
	CreatedAt    string               `json:"created_at"`
	UpdatedAt    string               `json:"updated_at"`
}

// Status assembles the snapshot for a session.
func (m *Manager) Status(ctx context.Context, sessionID string) (*Status, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stored, err := m.artifacts.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	hasSource := false
	for _, artifact := range stored {
		if artifact.Kind == artifacts.KindSourceAudio {
			hasSource = true
			break
		}
	}

	flags := sess.Flags(hasSource)
	states := pipeline.DeriveStates(flags)
	stages := make([]StageStatus, 0, len(states))
	for _, name := range pipeline.StageNames() {
		stages = append(stages, StageStatus{Name: name, State: states[name]})
	}

	status := &Status{
		SessionID:    sess.SessionID,
		Title:        sess.Title,
		Stages:       stages,
		CurrentStage: pipeline.CurrentStage(flags),
		RunningStage: sess.RunningStage,
		FailedStage:  sess.FailedStage,
		LastError:    sess.LastError,
		HasSource:    hasSource,
		Artifacts:    stored,
		CreatedAt:    sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if sess.LastError != "" {
		status.ErrorKind = services.KindUnknown
		if kind := services.Kind(sess.ErrorKind); kind != "" {
			status.ErrorKind = kind
		}
	}
	return status, nil
}
