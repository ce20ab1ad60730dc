package artifacts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"revoice/internal/services"
)

// Artifact is a stored file reference tagged with its kind.
type Artifact struct {
	ID        int64
	SessionID string
	Kind      Kind
	Path      string
	FileName  string
	Size      int64
	Checksum  string
	CreatedAt time.Time
}

// Store persists artifact files under a per-session directory tree and keeps
// an index in SQLite. Each (session, kind) pair resolves to exactly the most
// recently saved artifact of that kind.
type Store struct {
	db   *sql.DB
	root string
}

// NewStore constructs an artifact store. The database handle is shared with
// the session store, which owns schema initialization.
func NewStore(db *sql.DB, rootDir string) *Store {
	return &Store{db: db, root: rootDir}
}

// Save writes the reader's bytes for (sessionID, kind), superseding any prior
// artifact of that kind. The file lands via temp file + rename so a partial
// write never replaces durable bytes.
func (s *Store) Save(ctx context.Context, sessionID string, kind Kind, fileName string, r io.Reader) (*Artifact, error) {
	if sessionID == "" {
		return nil, services.Wrap(services.ErrStorage, "", "save artifact", "session id required", nil)
	}
	if _, ok := kindSet[kind]; !ok {
		return nil, services.Wrap(services.ErrStorage, "", "save artifact", fmt.Sprintf("unknown artifact kind %q", kind), nil)
	}

	dir := filepath.Join(s.root, sessionID, kind.Subdir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "save artifact", "create artifact directory", err)
	}

	name := sanitizeFileName(fileName)
	if name == "" {
		name = string(kind)
	}
	// Kinds sharing a subdirectory (the uploads) must not collide on disk when
	// the uploaded files carry the same name, so the stored name is prefixed
	// with the kind. FileName keeps the caller-facing original.
	finalPath := filepath.Join(dir, string(kind)+"-"+name)

	tmp, err := os.CreateTemp(dir, ".revoice-*.tmp")
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "save artifact", "create temp file", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		cleanup()
		return nil, services.Wrap(services.ErrStorage, "", "save artifact", "write artifact bytes", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, services.Wrap(services.ErrStorage, "", "save artifact", "flush artifact bytes", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, services.Wrap(services.ErrStorage, "", "save artifact", "finalize artifact file", err)
	}

	// A superseded artifact of the same kind may live under a different
	// file name; remove its bytes after the index row is replaced.
	var priorPath string
	_ = s.db.QueryRowContext(ctx,
		`SELECT path FROM artifacts WHERE session_id = ? AND kind = ?`,
		sessionID, string(kind),
	).Scan(&priorPath)

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (session_id, kind, path, file_name, size, checksum, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(session_id, kind) DO UPDATE SET
             path = excluded.path, file_name = excluded.file_name,
             size = excluded.size, checksum = excluded.checksum,
             created_at = excluded.created_at`,
		sessionID, string(kind), finalPath, name, size,
		hex.EncodeToString(hasher.Sum(nil)), now.Format(time.RFC3339Nano),
	); err != nil {
		_ = os.Remove(finalPath)
		return nil, services.Wrap(services.ErrStorage, "", "save artifact", "record artifact", err)
	}

	if priorPath != "" && priorPath != finalPath {
		_ = os.Remove(priorPath)
	}

	return s.Get(ctx, sessionID, kind)
}

// Get resolves the current artifact for (sessionID, kind).
func (s *Store) Get(ctx context.Context, sessionID string, kind Kind) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, kind, path, file_name, size, checksum, created_at
         FROM artifacts WHERE session_id = ? AND kind = ?`,
		sessionID, string(kind),
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "get artifact", fmt.Sprintf("no %s artifact for session %s", kind, sessionID), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "get artifact", "read artifact index", err)
	}
	return artifact, nil
}

// List returns all artifacts recorded for a session in kind order.
func (s *Store) List(ctx context.Context, sessionID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, path, file_name, size, checksum, created_at
         FROM artifacts WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "list artifacts", "query artifact index", err)
	}
	defer rows.Close()

	var result []Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "", "list artifacts", "scan artifact row", err)
		}
		result = append(result, *artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "list artifacts", "iterate artifact rows", err)
	}
	return result, nil
}

// Remove deletes the named kinds for a session, files included. Used only by
// the explicit reset cascade; stage execution never removes artifacts.
func (s *Store) Remove(ctx context.Context, sessionID string, kinds ...Kind) error {
	for _, kind := range kinds {
		artifact, err := s.Get(ctx, sessionID, kind)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM artifacts WHERE session_id = ? AND kind = ?`,
			sessionID, string(kind),
		); err != nil {
			return services.Wrap(services.ErrStorage, "", "remove artifact", fmt.Sprintf("delete %s index row", kind), err)
		}
		if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrStorage, "", "remove artifact", fmt.Sprintf("delete %s file", kind), err)
		}
	}
	return nil
}

// RemoveSession deletes every artifact and the session's directory tree.
func (s *Store) RemoveSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE session_id = ?`, sessionID); err != nil {
		return services.Wrap(services.ErrStorage, "", "remove session artifacts", "delete index rows", err)
	}
	dir := filepath.Join(s.root, sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return services.Wrap(services.ErrStorage, "", "remove session artifacts", "delete session directory", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*Artifact, error) {
	var (
		artifact  Artifact
		kind      string
		createdAt string
	)
	if err := row.Scan(&artifact.ID, &artifact.SessionID, &kind, &artifact.Path,
		&artifact.FileName, &artifact.Size, &artifact.Checksum, &createdAt); err != nil {
		return nil, err
	}
	artifact.Kind = Kind(kind)
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		artifact.CreatedAt = ts
	}
	return &artifact, nil
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_' || r == ' ':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimSpace(b.String())
}
