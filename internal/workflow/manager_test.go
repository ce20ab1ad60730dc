package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"revoice/internal/artifacts"
	"revoice/internal/logging"
	"revoice/internal/pipeline"
	"revoice/internal/services"
	"revoice/internal/session"
	"revoice/internal/stage"
	"revoice/internal/testsupport"
	"revoice/internal/workflow"
)

type stubHandler struct {
	name       string
	prepareErr error
	executeErr error
	onExecute  func(ctx context.Context, req *stage.Request) error
	executed   int
}

func (s *stubHandler) Prepare(ctx context.Context, req *stage.Request) error {
	return s.prepareErr
}

func (s *stubHandler) Execute(ctx context.Context, req *stage.Request) error {
	s.executed++
	if s.executeErr != nil {
		return s.executeErr
	}
	if s.onExecute != nil {
		return s.onExecute(ctx, req)
	}
	return nil
}

func (s *stubHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy(s.name)
}

type fixture struct {
	manager   *workflow.Manager
	store     *session.Store
	artifacts *artifacts.Store
	handlers  map[pipeline.StageName]*stubHandler
	session   *session.Session
}

// newFixture wires a manager whose stub handlers store the artifacts each
// stage is declared to produce.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)

	stubs := make(map[pipeline.StageName]*stubHandler)
	handlers := make(map[pipeline.StageName]stage.Handler)
	for _, def := range pipeline.Stages() {
		def := def
		stub := &stubHandler{name: string(def.Name)}
		stub.onExecute = func(ctx context.Context, req *stage.Request) error {
			for _, kind := range def.Outputs {
				testsupport.SeedArtifact(t, artifactStore, req.Session.SessionID, kind, string(kind)+".dat", []byte(def.Name))
			}
			return nil
		}
		stubs[def.Name] = stub
		handlers[def.Name] = stub
	}

	manager := workflow.NewManagerWithHandlers(cfg, store, artifactStore, logging.NewNop(), nil, handlers)
	sess := testsupport.NewSession(t, store, "demo track")
	testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindSourceAudio, "song.wav", []byte("audio"))

	return &fixture{manager: manager, store: store, artifacts: artifactStore, handlers: stubs, session: sess}
}

func (f *fixture) runAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, name := range pipeline.StageNames() {
		params := json.RawMessage(nil)
		if name == pipeline.StageConversion {
			params = json.RawMessage(`{"model_id":"alto-one"}`)
		}
		if err := f.manager.StartStage(ctx, f.session.SessionID, name, params); err != nil {
			t.Fatalf("StartStage(%s) returned error: %v", name, err)
		}
	}
}

func TestPipelineRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	f.runAll(t)

	status, err := f.manager.Status(context.Background(), f.session.SessionID)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	for _, stageStatus := range status.Stages {
		if stageStatus.State != pipeline.StateCompleted {
			t.Fatalf("stage %s state = %s, want completed", stageStatus.Name, stageStatus.State)
		}
	}
	if status.CurrentStage != "" {
		t.Fatalf("expected no current stage after completion, got %s", status.CurrentStage)
	}
	if status.LastError != "" {
		t.Fatalf("unexpected error in status: %q", status.LastError)
	}
	if len(status.Artifacts) != len(artifacts.AllKinds())-1 {
		// Every kind except the optional reference voice upload.
		t.Fatalf("expected %d artifacts, got %d", len(artifacts.AllKinds())-1, len(status.Artifacts))
	}
}

func TestStartStageAcceptsEmptyParams(t *testing.T) {
	f := newFixture(t)
	if err := f.manager.StartStage(context.Background(), f.session.SessionID, pipeline.StageSeparation, nil); err != nil {
		t.Fatalf("StartStage with nil params returned error: %v", err)
	}

	sess, err := f.store.Get(context.Background(), f.session.SessionID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !sess.Completed[pipeline.StageSeparation] {
		t.Fatal("expected separation recorded as completed")
	}
	if sess.RunningStage != "" {
		t.Fatalf("completed run leaked claim: %s", sess.RunningStage)
	}
	raw, ok := sess.Params[pipeline.StageSeparation]
	if !ok {
		t.Fatal("expected defaulted params recorded for separation")
	}
	if string(raw) != "{}" {
		t.Fatalf("defaulted params = %q, want {}", raw)
	}
}

func TestStartRejectsUngatedStage(t *testing.T) {
	f := newFixture(t)
	err := f.manager.StartStage(context.Background(), f.session.SessionID, pipeline.StageConversion, json.RawMessage(`{"model_id":"alto-one"}`))
	if !errors.Is(err, services.ErrInputUnavailable) {
		t.Fatalf("expected input-unavailable error for ungated stage, got: %v", err)
	}
	if f.handlers[pipeline.StageConversion].executed != 0 {
		t.Fatal("handler must not execute when gating fails")
	}

	status, statusErr := f.manager.Status(context.Background(), f.session.SessionID)
	if statusErr != nil {
		t.Fatalf("Status returned error: %v", statusErr)
	}
	if status.Stages[1].State != pipeline.StateNotStarted {
		t.Fatalf("conversion state = %s, want not_started", status.Stages[1].State)
	}
}

func TestStartRejectsInvalidParamsWithoutStateChange(t *testing.T) {
	f := newFixture(t)
	err := f.manager.StartStage(context.Background(), f.session.SessionID, pipeline.StageSeparation, json.RawMessage(`{"sample_rate":1}`))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got: %v", err)
	}

	sess, getErr := f.store.Get(context.Background(), f.session.SessionID)
	if getErr != nil {
		t.Fatalf("Get returned error: %v", getErr)
	}
	if sess.RunningStage != "" || sess.FailedStage != "" {
		t.Fatalf("rejection must not change state: %+v", sess)
	}
}

func TestStartRejectsUnknownStage(t *testing.T) {
	f := newFixture(t)
	err := f.manager.StartStage(context.Background(), f.session.SessionID, pipeline.StageName("mastering"), nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown stage, got: %v", err)
	}
}

func TestStartRejectedWhileAnotherStageRuns(t *testing.T) {
	f := newFixture(t)
	if err := f.store.ClaimStage(context.Background(), f.session.SessionID, pipeline.StageSeparation); err != nil {
		t.Fatalf("ClaimStage returned error: %v", err)
	}

	err := f.manager.StartStage(context.Background(), f.session.SessionID, pipeline.StageSeparation, nil)
	if !errors.Is(err, session.ErrSessionBusy) {
		t.Fatalf("expected busy error, got: %v", err)
	}
	if f.handlers[pipeline.StageSeparation].executed != 0 {
		t.Fatal("handler must not execute while claim is held")
	}
}

func TestExecuteFailureRecordsFailedState(t *testing.T) {
	f := newFixture(t)
	f.handlers[pipeline.StageSeparation].executeErr = services.Wrap(
		services.ErrExternalTool, "separation", "demucs separate", "Vocal separation failed", errors.New("exit 1"),
	)

	err := f.manager.StartStage(context.Background(), f.session.SessionID, pipeline.StageSeparation, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external-tool error, got: %v", err)
	}

	status, statusErr := f.manager.Status(context.Background(), f.session.SessionID)
	if statusErr != nil {
		t.Fatalf("Status returned error: %v", statusErr)
	}
	if status.Stages[0].State != pipeline.StateFailed {
		t.Fatalf("separation state = %s, want failed", status.Stages[0].State)
	}
	if status.Stages[1].State != pipeline.StateNotStarted {
		t.Fatalf("conversion state = %s, want not_started", status.Stages[1].State)
	}
	if status.ErrorKind != services.KindExternalTool {
		t.Fatalf("status error kind = %s, want %s", status.ErrorKind, services.KindExternalTool)
	}
	if !strings.Contains(status.LastError, "Vocal separation failed") {
		t.Fatalf("unexpected status error %q", status.LastError)
	}

	// A failed stage stays startable: retry succeeds and clears the failure.
	f.handlers[pipeline.StageSeparation].executeErr = nil
	if err := f.manager.StartStage(context.Background(), f.session.SessionID, pipeline.StageSeparation, nil); err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	status, _ = f.manager.Status(context.Background(), f.session.SessionID)
	if status.Stages[0].State != pipeline.StateCompleted || status.LastError != "" {
		t.Fatalf("retry did not clear failure: %+v", status)
	}
}

func TestCompletionPersistFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	// Block only the write that records separation as completed; the claim
	// and failure updates keep an empty completion map and go through.
	if _, err := f.store.DB().Exec(`
        CREATE TRIGGER block_completion BEFORE UPDATE ON sessions
        WHEN NEW.completed_json LIKE '%separation%'
        BEGIN
            SELECT RAISE(ABORT, 'completion write rejected');
        END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	err := f.manager.StartStage(context.Background(), f.session.SessionID, pipeline.StageSeparation, nil)
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected storage error, got: %v", err)
	}

	sess, getErr := f.store.Get(context.Background(), f.session.SessionID)
	if getErr != nil {
		t.Fatalf("Get returned error: %v", getErr)
	}
	if sess.RunningStage != "" {
		t.Fatalf("broken completion write leaked claim: %s", sess.RunningStage)
	}
	if sess.FailedStage != pipeline.StageSeparation {
		t.Fatalf("failed stage = %s, want separation", sess.FailedStage)
	}
	if sess.ErrorKind != string(services.KindStorage) {
		t.Fatalf("error kind = %s, want %s", sess.ErrorKind, services.KindStorage)
	}
}

func TestRerunInvalidatesDownstream(t *testing.T) {
	f := newFixture(t)
	f.runAll(t)

	if err := f.manager.StartStage(context.Background(), f.session.SessionID, pipeline.StageSeparation, nil); err != nil {
		t.Fatalf("rerun returned error: %v", err)
	}

	status, err := f.manager.Status(context.Background(), f.session.SessionID)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.Stages[0].State != pipeline.StateCompleted {
		t.Fatalf("separation state = %s, want completed", status.Stages[0].State)
	}
	if status.Stages[1].State != pipeline.StateReady {
		t.Fatalf("conversion state = %s, want ready", status.Stages[1].State)
	}
	if status.Stages[3].State != pipeline.StateNotStarted {
		t.Fatalf("analysis state = %s, want not_started", status.Stages[3].State)
	}
	if _, err := f.artifacts.Get(context.Background(), f.session.SessionID, artifacts.KindMixedOutput); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected mixed output removed by rerun, got err=%v", err)
	}
	if _, err := f.artifacts.Get(context.Background(), f.session.SessionID, artifacts.KindVocalStem); err != nil {
		t.Fatalf("expected fresh vocal stem from rerun: %v", err)
	}
}

func TestResetFromClearsDownstreamStateAndArtifacts(t *testing.T) {
	f := newFixture(t)
	f.runAll(t)

	if err := f.manager.ResetFrom(context.Background(), f.session.SessionID, pipeline.StageConversion); err != nil {
		t.Fatalf("ResetFrom returned error: %v", err)
	}

	status, err := f.manager.Status(context.Background(), f.session.SessionID)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.Stages[0].State != pipeline.StateCompleted {
		t.Fatalf("separation state = %s, want completed", status.Stages[0].State)
	}
	if status.Stages[1].State != pipeline.StateReady {
		t.Fatalf("conversion state = %s, want ready", status.Stages[1].State)
	}
	if status.RunningStage != "" {
		t.Fatalf("reset leaked a claim: %s", status.RunningStage)
	}
	for _, kind := range []artifacts.Kind{artifacts.KindConvertedVocal, artifacts.KindMixedOutput, artifacts.KindCoverArt} {
		if _, err := f.artifacts.Get(context.Background(), f.session.SessionID, kind); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("expected %s removed by reset, got err=%v", kind, err)
		}
	}
	if _, err := f.artifacts.Get(context.Background(), f.session.SessionID, artifacts.KindVocalStem); err != nil {
		t.Fatalf("reset must keep upstream artifacts: %v", err)
	}
}

func TestResetRejectedWhileStageRuns(t *testing.T) {
	f := newFixture(t)
	if err := f.store.ClaimStage(context.Background(), f.session.SessionID, pipeline.StageSeparation); err != nil {
		t.Fatalf("ClaimStage returned error: %v", err)
	}
	err := f.manager.ResetFrom(context.Background(), f.session.SessionID, pipeline.StageSeparation)
	if !errors.Is(err, session.ErrSessionBusy) {
		t.Fatalf("expected busy error, got: %v", err)
	}
}

func TestPrepareRejectionReleasesClaim(t *testing.T) {
	f := newFixture(t)
	f.handlers[pipeline.StageSeparation].prepareErr = services.Wrap(
		services.ErrInputUnavailable, "separation", "locate source audio", "No source audio uploaded", nil,
	)

	err := f.manager.StartStage(context.Background(), f.session.SessionID, pipeline.StageSeparation, nil)
	if !errors.Is(err, services.ErrInputUnavailable) {
		t.Fatalf("expected input-unavailable error, got: %v", err)
	}

	sess, getErr := f.store.Get(context.Background(), f.session.SessionID)
	if getErr != nil {
		t.Fatalf("Get returned error: %v", getErr)
	}
	if sess.RunningStage != "" {
		t.Fatalf("rejected run leaked claim: %s", sess.RunningStage)
	}
	if sess.FailedStage != "" {
		t.Fatalf("rejected run must not record failure, got %s", sess.FailedStage)
	}
}

func TestDeleteSessionRemovesEverything(t *testing.T) {
	f := newFixture(t)
	f.runAll(t)

	if err := f.manager.DeleteSession(context.Background(), f.session.SessionID); err != nil {
		t.Fatalf("DeleteSession returned error: %v", err)
	}
	if _, err := f.store.Get(context.Background(), f.session.SessionID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got err=%v", err)
	}
	stored, err := f.artifacts.List(context.Background(), f.session.SessionID)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected no artifacts after delete, got %d", len(stored))
	}
}

func TestHealthReportsEveryStage(t *testing.T) {
	f := newFixture(t)
	health := f.manager.Health(context.Background())
	if len(health) != len(pipeline.StageNames()) {
		t.Fatalf("expected %d reports, got %d", len(pipeline.StageNames()), len(health))
	}
	for _, report := range health {
		if !report.Ready {
			t.Fatalf("expected healthy report, got %+v", report)
		}
	}
}
