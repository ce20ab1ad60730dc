package ffmpeg_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"revoice/internal/services/ffmpeg"
)

type stubExecutor struct {
	err   error
	args  [][]string
	onRun func(args []string) error
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	s.args = append(s.args, append([]string(nil), args...))
	if s.onRun != nil {
		return s.onRun(args)
	}
	return s.err
}

func mixRequest(outPath string) ffmpeg.MixRequest {
	return ffmpeg.MixRequest{
		VocalPath:        "/tmp/converted.wav",
		InstrumentalPath: "/tmp/no_vocals.wav",
		OutputPath:       outPath,
		Preset:           "studio",
	}
}

func TestMixBuildsFilterGraph(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "mix.wav")
	exec := &stubExecutor{onRun: func([]string) error {
		return os.WriteFile(outPath, []byte("audio"), 0o644)
	}}
	client, err := ffmpeg.New("ffmpeg", 5, ffmpeg.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	req := mixRequest(outPath)
	req.VocalGainDB = 2
	req.InstrumentalGainDB = -3
	if err := client.Mix(context.Background(), req); err != nil {
		t.Fatalf("Mix returned error: %v", err)
	}

	joined := strings.Join(exec.args[0], " ")
	if !strings.Contains(joined, "volume=2.0dB") {
		t.Fatalf("expected vocal gain in filter graph: %q", joined)
	}
	if !strings.Contains(joined, "volume=-3.0dB") {
		t.Fatalf("expected instrumental gain in filter graph: %q", joined)
	}
	if !strings.Contains(joined, "acompressor") {
		t.Fatalf("expected studio effect chain: %q", joined)
	}
	if !strings.Contains(joined, "amix=inputs=2") {
		t.Fatalf("expected amix in filter graph: %q", joined)
	}
}

func TestMixDryPresetSkipsEffects(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "mix.wav")
	exec := &stubExecutor{onRun: func([]string) error {
		return os.WriteFile(outPath, []byte("audio"), 0o644)
	}}
	client, err := ffmpeg.New("ffmpeg", 5, ffmpeg.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	req := mixRequest(outPath)
	req.Preset = "dry"
	if err := client.Mix(context.Background(), req); err != nil {
		t.Fatalf("Mix returned error: %v", err)
	}
	joined := strings.Join(exec.args[0], " ")
	if strings.Contains(joined, "aecho") {
		t.Fatalf("dry preset must not add effects: %q", joined)
	}
}

func TestMixRejectsUnknownPreset(t *testing.T) {
	client, err := ffmpeg.New("ffmpeg", 5, ffmpeg.WithExecutor(&stubExecutor{}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	req := mixRequest(filepath.Join(t.TempDir(), "mix.wav"))
	req.Preset = "stadium"
	if err := client.Mix(context.Background(), req); err == nil || !strings.Contains(err.Error(), "unknown mix preset") {
		t.Fatalf("expected preset error, got: %v", err)
	}
}

func TestMixErrorsWhenNoOutputProduced(t *testing.T) {
	client, err := ffmpeg.New("ffmpeg", 5, ffmpeg.WithExecutor(&stubExecutor{}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = client.Mix(context.Background(), mixRequest(filepath.Join(t.TempDir(), "mix.wav")))
	if err == nil || !strings.Contains(err.Error(), "no output file") {
		t.Fatalf("expected no-output error, got: %v", err)
	}
}

func TestMixReturnsExecutorError(t *testing.T) {
	client, err := ffmpeg.New("ffmpeg", 5, ffmpeg.WithExecutor(&stubExecutor{err: errors.New("boom")}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := client.Mix(context.Background(), mixRequest(filepath.Join(t.TempDir(), "mix.wav"))); err == nil {
		t.Fatal("expected error from executor")
	}
}
