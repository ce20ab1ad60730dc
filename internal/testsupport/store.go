package testsupport

import (
	"bytes"
	"context"
	"testing"

	"revoice/internal/artifacts"
	"revoice/internal/config"
	"revoice/internal/session"
)

// MustOpenStore opens a session.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *session.Store {
	t.Helper()

	store, err := session.Open(cfg)
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewArtifactStore constructs an artifact store backed by the session database.
func NewArtifactStore(t testing.TB, cfg *config.Config, store *session.Store) *artifacts.Store {
	t.Helper()
	return artifacts.NewStore(store.DB(), cfg.SessionsDir())
}

// NewSession creates a session for tests using the provided store.
func NewSession(t testing.TB, store *session.Store, title string) *session.Session {
	t.Helper()

	sess, err := store.Create(context.Background(), title)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return sess
}

// SeedArtifact stores content under the given kind for a session.
func SeedArtifact(t testing.TB, store *artifacts.Store, sessionID string, kind artifacts.Kind, fileName string, content []byte) *artifacts.Artifact {
	t.Helper()

	artifact, err := store.Save(context.Background(), sessionID, kind, fileName, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("artifacts.Save: %v", err)
	}
	return artifact
}
