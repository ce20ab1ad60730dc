package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"revoice/internal/logging"
	"revoice/internal/pipeline"
	"revoice/internal/services"
	"revoice/internal/session"
	"revoice/internal/stage"
)

// StartStage validates, claims, and synchronously executes one stage run.
// Parameter and gating violations are rejected before any state changes;
// a concurrent run of any stage surfaces as session.ErrSessionBusy.
func (m *Manager) StartStage(ctx context.Context, sessionID string, stageName pipeline.StageName, rawParams json.RawMessage) error {
	if _, ok := pipeline.Lookup(stageName); !ok {
		return services.Wrap(
			services.ErrValidation,
			string(stageName),
			"parse stage",
			fmt.Sprintf("Unknown stage %q", stageName),
			nil,
		)
	}
	params, err := pipeline.ParseParams(stageName, rawParams)
	if err != nil {
		return err
	}

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	hasSource, err := m.hasSource(ctx, sessionID)
	if err != nil {
		return err
	}
	flags := sess.Flags(hasSource)
	if flags.Running != "" {
		return session.ErrSessionBusy
	}
	if !pipeline.Startable(stageName, flags) {
		return services.Wrap(
			services.ErrInputUnavailable,
			string(stageName),
			"check gating",
			"Stage is not ready; complete the earlier stages first",
			nil,
		)
	}

	if err := m.store.ClaimStage(ctx, sessionID, stageName); err != nil {
		return err
	}
	sess.RunningStage = stageName

	requestID := uuid.NewString()
	runCtx := services.WithRequestID(
		services.WithStage(services.WithSessionID(ctx, sessionID), string(stageName)),
		requestID,
	)
	logger := logging.WithContext(runCtx, m.logger)

	handler, ok := m.handlers[stageName]
	if !ok || handler == nil {
		m.releaseClaim(runCtx, sess, logger)
		return services.Wrap(
			services.ErrConfiguration,
			string(stageName),
			"resolve handler",
			"No handler registered for this stage",
			nil,
		)
	}
	if aware, ok := handler.(stage.LoggerAware); ok {
		aware.SetLogger(logger)
	}

	wasCompleted := sess.Completed[stageName]
	req := &stage.Request{Session: sess, Params: params}

	logger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Bool("rerun", wasCompleted),
	)

	if err := handler.Prepare(runCtx, req); err != nil {
		if services.IsRejection(err) {
			m.releaseClaim(runCtx, sess, logger)
			return err
		}
		m.failStage(runCtx, sess, stageName, err, logger)
		return err
	}

	// A re-run of a completed stage invalidates everything downstream before
	// the new outputs are produced, all under the claim taken above.
	if wasCompleted {
		sess.ResetFrom(stageName)
		if err := m.artifacts.Remove(runCtx, sessionID, pipeline.OutputKindsFrom(stageName)...); err != nil {
			m.failStage(runCtx, sess, stageName, err, logger)
			return err
		}
		logger.Info("downstream results invalidated for rerun")
	}

	sess.SetParams(stageName, rawParams)
	if err := m.store.Update(runCtx, sess); err != nil {
		m.failStage(runCtx, sess, stageName, err, logger)
		return err
	}

	m.metrics.RecordStageStarted(runCtx, string(stageName))
	start := time.Now()

	if err := handler.Execute(runCtx, req); err != nil {
		m.metrics.RecordStageFinished(runCtx, string(stageName), false, time.Since(start).Seconds())
		m.failStage(runCtx, sess, stageName, err, logger)
		return err
	}

	sess.MarkCompleted(stageName)
	if err := m.store.Update(runCtx, sess); err != nil {
		m.metrics.RecordStageFinished(runCtx, string(stageName), false, time.Since(start).Seconds())
		wrapped := services.Wrap(
			services.ErrStorage,
			string(stageName),
			"persist completion",
			"Stage finished but its completion could not be recorded",
			err,
		)
		// Best effort: record the failure so the DB claim does not stay held
		// when only the completion write is broken.
		delete(sess.Completed, stageName)
		m.failStage(runCtx, sess, stageName, wrapped, logger)
		return wrapped
	}
	m.metrics.RecordStageFinished(runCtx, string(stageName), true, time.Since(start).Seconds())
	logger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(start)),
	)
	return nil
}

// releaseClaim clears the running marker without recording a failure. Used
// when a run is rejected before any side effects.
func (m *Manager) releaseClaim(ctx context.Context, sess *session.Session, logger *slog.Logger) {
	sess.RunningStage = ""
	if err := m.store.Update(ctx, sess); err != nil {
		logger.Error("failed to release stage claim", logging.Error(err))
	}
}

// failStage records a terminal failure for this invocation and releases the
// claim. The stage stays failed until it is re-run or reset.
func (m *Manager) failStage(ctx context.Context, sess *session.Session, stageName pipeline.StageName, stageErr error, logger *slog.Logger) {
	details := services.Details(stageErr)
	message := details.Message
	if message == "" && stageErr != nil {
		message = stageErr.Error()
	}
	sess.MarkFailed(stageName, message, string(details.Kind))

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String("error_message", message),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(stageErr))
	}
	logger.Error("stage failed", logging.Args(attrs...)...)

	if err := m.store.Update(ctx, sess); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}
}
