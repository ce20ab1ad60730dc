package conversion_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"revoice/internal/artifacts"
	"revoice/internal/conversion"
	"revoice/internal/logging"
	"revoice/internal/pipeline"
	"revoice/internal/services"
	"revoice/internal/services/rvc"
	"revoice/internal/stage"
	"revoice/internal/testsupport"
)

type stubConverter struct {
	err      error
	requests []rvc.Request
}

func (s *stubConverter) Convert(ctx context.Context, req rvc.Request) error {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(req.OutputPath, []byte("converted"), 0o644)
}

func (s *stubConverter) Models() ([]string, error) {
	return []string{"alto-one"}, nil
}

func conversionParams() pipeline.ConversionParams {
	return pipeline.ConversionParams{ModelID: "alto-one", FormantShift: 1.0, Algorithm: "rmvpe"}
}

func TestPrepareRequiresVocalStem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")

	handler := conversion.NewWithClient(cfg, artifactStore, logging.NewNop(), &stubConverter{})
	err := handler.Prepare(context.Background(), &stage.Request{Session: sess, Params: conversionParams()})
	if !errors.Is(err, services.ErrInputUnavailable) {
		t.Fatalf("expected input-unavailable error, got: %v", err)
	}
}

func TestExecuteStoresConvertedVocal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")
	testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindVocalStem, "vocals.wav", []byte("stem"))

	converter := &stubConverter{}
	handler := conversion.NewWithClient(cfg, artifactStore, logging.NewNop(), converter)
	req := &stage.Request{Session: sess, Params: conversionParams()}
	if err := handler.Prepare(context.Background(), req); err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if err := handler.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if len(converter.requests) != 1 {
		t.Fatalf("expected one convert call, got %d", len(converter.requests))
	}
	if converter.requests[0].ReferencePath != "" {
		t.Fatalf("expected no reference path, got %q", converter.requests[0].ReferencePath)
	}
	if _, err := artifactStore.Get(context.Background(), sess.SessionID, artifacts.KindConvertedVocal); err != nil {
		t.Fatalf("missing converted vocal artifact: %v", err)
	}
}

func TestExecutePassesReferenceVoiceWhenPresent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")
	testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindVocalStem, "vocals.wav", []byte("stem"))
	reference := testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindReferenceVoice, "ref.wav", []byte("voice"))

	converter := &stubConverter{}
	handler := conversion.NewWithClient(cfg, artifactStore, logging.NewNop(), converter)
	if err := handler.Execute(context.Background(), &stage.Request{Session: sess, Params: conversionParams()}); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if converter.requests[0].ReferencePath != reference.Path {
		t.Fatalf("expected reference path %q, got %q", reference.Path, converter.requests[0].ReferencePath)
	}
}

func TestExecuteWrapsConverterFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")
	testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindVocalStem, "vocals.wav", []byte("stem"))

	handler := conversion.NewWithClient(cfg, artifactStore, logging.NewNop(), &stubConverter{err: errors.New("bad model")})
	err := handler.Execute(context.Background(), &stage.Request{Session: sess, Params: conversionParams()})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external-tool error, got: %v", err)
	}
}

func TestHealthCheckRequiresModelDir(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("rvc"))
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)

	handler := conversion.NewWithClient(cfg, artifactStore, logging.NewNop(), &stubConverter{})
	if health := handler.HealthCheck(context.Background()); health.Ready {
		t.Fatalf("expected unhealthy without model dir, got %+v", health)
	}

	if err := os.MkdirAll(cfg.Conversion.ModelDir, 0o755); err != nil {
		t.Fatalf("mkdir model dir: %v", err)
	}
	if health := handler.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy with model dir, got %+v", health)
	}
}
