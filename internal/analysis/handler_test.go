package analysis_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"revoice/internal/analysis"
	"revoice/internal/artifacts"
	"revoice/internal/logging"
	"revoice/internal/pipeline"
	"revoice/internal/services"
	"revoice/internal/services/llm"
	"revoice/internal/stage"
	"revoice/internal/testsupport"
)

type stubAnalyzer struct {
	analysis    llm.TrackAnalysis
	analyzeErr  error
	artErr      error
	artCalls    int
	lastLyrics  string
	lastPrompt  string
	healthErr   error
	healthCalls int
}

func (s *stubAnalyzer) AnalyzeTrack(ctx context.Context, lyrics, genreHint string) (llm.TrackAnalysis, error) {
	s.lastLyrics = lyrics
	if s.analyzeErr != nil {
		return llm.TrackAnalysis{}, s.analyzeErr
	}
	return s.analysis, nil
}

func (s *stubAnalyzer) GenerateCoverArt(ctx context.Context, prompt string) ([]byte, error) {
	s.artCalls++
	s.lastPrompt = prompt
	if s.artErr != nil {
		return nil, s.artErr
	}
	return []byte("png-bytes"), nil
}

func (s *stubAnalyzer) HealthCheck(ctx context.Context) error {
	s.healthCalls++
	return s.healthErr
}

func analysisParams(generateArt bool) pipeline.AnalysisParams {
	return pipeline.AnalysisParams{Lyrics: "verse one\nchorus", GenreHint: "folk", GenerateArt: generateArt}
}

func TestPrepareRequiresLyrics(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")

	handler := analysis.NewWithClient(cfg, artifactStore, logging.NewNop(), &stubAnalyzer{})
	err := handler.Prepare(context.Background(), &stage.Request{Session: sess, Params: pipeline.AnalysisParams{}})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty lyrics, got: %v", err)
	}
}

func TestPrepareRequiresMixedOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")

	handler := analysis.NewWithClient(cfg, artifactStore, logging.NewNop(), &stubAnalyzer{})
	err := handler.Prepare(context.Background(), &stage.Request{Session: sess, Params: analysisParams(false)})
	if !errors.Is(err, services.ErrInputUnavailable) {
		t.Fatalf("expected input-unavailable error, got: %v", err)
	}
}

func TestExecuteStoresReport(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")
	testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindMixedOutput, "mix.wav", []byte("mix"))

	analyzer := &stubAnalyzer{analysis: llm.TrackAnalysis{
		Mood: "melancholic", Genre: "indie folk", Tempo: "slow", Confidence: 0.9,
	}}
	handler := analysis.NewWithClient(cfg, artifactStore, logging.NewNop(), analyzer)
	req := &stage.Request{Session: sess, Params: analysisParams(false)}
	if err := handler.Prepare(context.Background(), req); err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if err := handler.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	artifact, err := artifactStore.Get(context.Background(), sess.SessionID, artifacts.KindAnalysisReport)
	if err != nil {
		t.Fatalf("missing report artifact: %v", err)
	}
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report analysis.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Mood != "melancholic" || report.Genre != "indie folk" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.CoverArt {
		t.Fatal("expected cover_art=false")
	}
	if analyzer.artCalls != 0 {
		t.Fatalf("unexpected cover art generation: %d calls", analyzer.artCalls)
	}
	if _, err := artifactStore.Get(context.Background(), sess.SessionID, artifacts.KindCoverArt); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected no cover art artifact, got err=%v", err)
	}
}

func TestExecuteGeneratesCoverArtFromModelPrompt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")
	testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindMixedOutput, "mix.wav", []byte("mix"))

	analyzer := &stubAnalyzer{analysis: llm.TrackAnalysis{
		Mood: "dark", Genre: "electronic", ArtPrompt: "neon skyline at midnight",
	}}
	handler := analysis.NewWithClient(cfg, artifactStore, logging.NewNop(), analyzer)
	if err := handler.Execute(context.Background(), &stage.Request{Session: sess, Params: analysisParams(true)}); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if analyzer.lastPrompt != "neon skyline at midnight" {
		t.Fatalf("expected model art prompt, got %q", analyzer.lastPrompt)
	}
	artifact, err := artifactStore.Get(context.Background(), sess.SessionID, artifacts.KindCoverArt)
	if err != nil {
		t.Fatalf("missing cover art artifact: %v", err)
	}
	if artifact.FileName != "cover.png" {
		t.Fatalf("unexpected cover file name %q", artifact.FileName)
	}
}

func TestExecuteWrapsAnalyzerFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")
	testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindMixedOutput, "mix.wav", []byte("mix"))

	handler := analysis.NewWithClient(cfg, artifactStore, logging.NewNop(), &stubAnalyzer{analyzeErr: errors.New("quota exhausted")})
	err := handler.Execute(context.Background(), &stage.Request{Session: sess, Params: analysisParams(false)})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external-tool error, got: %v", err)
	}
}

func TestHealthCheckRequiresAPIKey(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLLMKey(""))
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)

	analyzer := &stubAnalyzer{}
	handler := analysis.NewWithClient(cfg, artifactStore, logging.NewNop(), analyzer)
	if health := handler.HealthCheck(context.Background()); health.Ready {
		t.Fatalf("expected unhealthy without api key, got %+v", health)
	}
	if analyzer.healthCalls != 0 {
		t.Fatal("health check must not hit the API without a key")
	}
}
