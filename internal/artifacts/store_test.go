package artifacts_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"testing"

	"revoice/internal/artifacts"
	"revoice/internal/services"
	"revoice/internal/testsupport"
)

func TestSaveAndGetRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")

	content := []byte("pcm data")
	saved, err := artifactStore.Save(context.Background(), sess.SessionID, artifacts.KindSourceAudio, "My Song.wav", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if saved.Size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", saved.Size, len(content))
	}
	sum := sha256.Sum256(content)
	if saved.Checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected checksum %q", saved.Checksum)
	}
	if !strings.Contains(saved.Path, sess.SessionID) {
		t.Fatalf("artifact path not under session dir: %q", saved.Path)
	}

	got, err := artifactStore.Get(context.Background(), sess.SessionID, artifacts.KindSourceAudio)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	data, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("stored bytes mismatch: %q", data)
	}
}

func TestSaveSupersedesPriorArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")

	first, err := artifactStore.Save(context.Background(), sess.SessionID, artifacts.KindMixedOutput, "mix-v1.wav", bytes.NewReader([]byte("one")))
	if err != nil {
		t.Fatalf("first Save returned error: %v", err)
	}
	second, err := artifactStore.Save(context.Background(), sess.SessionID, artifacts.KindMixedOutput, "mix-v2.wav", bytes.NewReader([]byte("two")))
	if err != nil {
		t.Fatalf("second Save returned error: %v", err)
	}

	got, err := artifactStore.Get(context.Background(), sess.SessionID, artifacts.KindMixedOutput)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.FileName != "mix-v2.wav" {
		t.Fatalf("expected superseding artifact, got %q", got.FileName)
	}
	if first.Path != second.Path {
		if _, err := os.Stat(first.Path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("superseded file still on disk: %v", err)
		}
	}

	list, err := artifactStore.List(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one row per (session, kind), got %d", len(list))
	}
}

func TestGetMissingArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")

	_, err := artifactStore.Get(context.Background(), sess.SessionID, artifacts.KindCoverArt)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got: %v", err)
	}
}

func TestRemoveDeletesRowsAndFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")

	kept := testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindVocalStem, "vocals.wav", []byte("keep"))
	removed := testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindMixedOutput, "mix.wav", []byte("drop"))

	if err := artifactStore.Remove(context.Background(), sess.SessionID, artifacts.KindMixedOutput, artifacts.KindCoverArt); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}

	if _, err := artifactStore.Get(context.Background(), sess.SessionID, artifacts.KindMixedOutput); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected mixed output removed, got err=%v", err)
	}
	if _, err := os.Stat(removed.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("removed file still on disk: %v", err)
	}
	if _, err := os.Stat(kept.Path); err != nil {
		t.Fatalf("unrelated artifact removed: %v", err)
	}
}

func TestRemoveSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")
	testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindSourceAudio, "song.wav", []byte("audio"))
	testsupport.SeedArtifact(t, artifactStore, sess.SessionID, artifacts.KindVocalStem, "vocals.wav", []byte("stem"))

	if err := artifactStore.RemoveSession(context.Background(), sess.SessionID); err != nil {
		t.Fatalf("RemoveSession returned error: %v", err)
	}
	list, err := artifactStore.List(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no artifacts, got %d", len(list))
	}
}

func TestSameNamedUploadsKeepDistinctFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")

	songBytes := []byte("full mix audio")
	voiceBytes := []byte("reference voice audio")
	source, err := artifactStore.Save(context.Background(), sess.SessionID, artifacts.KindSourceAudio, "take.wav", bytes.NewReader(songBytes))
	if err != nil {
		t.Fatalf("Save source returned error: %v", err)
	}
	reference, err := artifactStore.Save(context.Background(), sess.SessionID, artifacts.KindReferenceVoice, "take.wav", bytes.NewReader(voiceBytes))
	if err != nil {
		t.Fatalf("Save reference returned error: %v", err)
	}
	if source.Path == reference.Path {
		t.Fatalf("uploads share an on-disk path: %q", source.Path)
	}
	if source.FileName != "take.wav" || reference.FileName != "take.wav" {
		t.Fatalf("original names not preserved: %q / %q", source.FileName, reference.FileName)
	}

	got, err := artifactStore.Get(context.Background(), sess.SessionID, artifacts.KindSourceAudio)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	data, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatalf("read source file: %v", err)
	}
	if !bytes.Equal(data, songBytes) {
		t.Fatalf("source bytes clobbered by the reference upload")
	}
}

func TestSaveSanitizesFileName(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.NewArtifactStore(t, cfg, store)
	sess := testsupport.NewSession(t, store, "demo")

	saved, err := artifactStore.Save(context.Background(), sess.SessionID, artifacts.KindSourceAudio, "../../etc/passwd", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if strings.Contains(saved.FileName, "..") || strings.Contains(saved.FileName, "/") {
		t.Fatalf("file name not sanitized: %q", saved.FileName)
	}
	if !strings.Contains(saved.Path, cfg.SessionsDir()) {
		t.Fatalf("artifact escaped the sessions root: %q", saved.Path)
	}
}

func TestParseKind(t *testing.T) {
	kind, ok := artifacts.ParseKind(" Mixed_Output ")
	if !ok || kind != artifacts.KindMixedOutput {
		t.Fatalf("ParseKind = %v, %v", kind, ok)
	}
	if _, ok := artifacts.ParseKind("bogus"); ok {
		t.Fatal("expected unknown kind to fail")
	}
}
