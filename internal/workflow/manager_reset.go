package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"revoice/internal/logging"
	"revoice/internal/pipeline"
	"revoice/internal/services"
	"revoice/internal/session"
)

// ResetFrom clears the named stage and everything downstream: completion
// flags, recorded parameters, failure state, and derived artifacts. The
// reset takes the session claim, so it is rejected while a stage runs.
func (m *Manager) ResetFrom(ctx context.Context, sessionID string, stageName pipeline.StageName) error {
	if _, ok := pipeline.Lookup(stageName); !ok {
		return services.Wrap(
			services.ErrValidation,
			string(stageName),
			"parse stage",
			fmt.Sprintf("Unknown stage %q", stageName),
			nil,
		)
	}
	if err := m.store.ClaimStage(ctx, sessionID, stageName); err != nil {
		return err
	}

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.RunningStage = ""
	sess.ResetFrom(stageName)

	if err := m.artifacts.Remove(ctx, sessionID, pipeline.OutputKindsFrom(stageName)...); err != nil {
		// Claim must not leak even when artifact removal fails.
		if updateErr := m.store.Update(ctx, sess); updateErr != nil {
			m.logger.Error("failed to release claim after reset failure", logging.Error(updateErr))
		}
		return err
	}
	if err := m.store.Update(ctx, sess); err != nil {
		return fmt.Errorf("persist reset: %w", err)
	}

	m.logger.Info(
		"pipeline reset",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldStage, string(stageName)),
	)
	return nil
}

// DeleteSession removes a session, its artifacts, and its on-disk directory.
// Rejected while a stage is running.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.RunningStage != "" {
		return fmt.Errorf("%w: %s", session.ErrSessionBusy, sessionID)
	}

	if err := m.artifacts.RemoveSession(ctx, sessionID); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(m.cfg.SessionsDir(), sessionID)); err != nil {
		m.logger.Warn("failed to remove session directory", logging.Error(err))
	}
	m.logger.Info("session deleted", logging.String(logging.FieldSessionID, sessionID))
	return nil
}
