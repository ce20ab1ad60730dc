package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"revoice/internal/config"
	"revoice/internal/pipeline"
)

// ErrSessionBusy is returned when a stage claim is attempted while another
// stage of the same session is running.
var ErrSessionBusy = errors.New("session already has a running stage")

// ErrSessionNotFound is returned when a session id does not resolve.
var ErrSessionNotFound = errors.New("session not found")

// Store manages session persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the session database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the shared database handle for the artifact store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Create inserts a new session with a fresh identifier.
func (s *Store) Create(ctx context.Context, title string) (*Session, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO sessions (session_id, title, completed_json, params_json, created_at, updated_at)
         VALUES (?, ?, '{}', '{}', ?, ?)`,
		id, strings.TrimSpace(title), now, now,
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a session by its identifier.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// List returns all sessions ordered by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}

// Update persists changes to an existing session.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("session is nil")
	}
	completedJSON, err := json.Marshal(completedMap(sess.Completed))
	if err != nil {
		return fmt.Errorf("marshal completion flags: %w", err)
	}
	paramsJSON, err := json.Marshal(paramsMap(sess.Params))
	if err != nil {
		return fmt.Errorf("marshal stage params: %w", err)
	}
	sess.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE sessions
         SET title = ?, running_stage = ?, failed_stage = ?, last_error = ?,
             error_kind = ?, completed_json = ?, params_json = ?, updated_at = ?
         WHERE session_id = ?`,
		sess.Title,
		string(sess.RunningStage),
		string(sess.FailedStage),
		sess.LastError,
		sess.ErrorKind,
		string(completedJSON),
		string(paramsJSON),
		sess.UpdatedAt.Format(time.RFC3339Nano),
		sess.SessionID,
	); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Delete removes a session row.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.execWithoutResultRetry(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ClaimStage atomically marks a stage as the session's single running stage.
// The conditional update is the single-writer guard: it succeeds only while
// no other stage holds the claim.
func (s *Store) ClaimStage(ctx context.Context, sessionID string, stage pipeline.StageName) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE sessions SET running_stage = ?, updated_at = ?
         WHERE session_id = ? AND running_stage = ''`,
		string(stage),
		time.Now().UTC().Format(time.RFC3339Nano),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("claim stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim stage result: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, sessionID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	return nil
}

// ReleaseStaleClaims clears running claims left behind by a crashed daemon.
// Called once on startup; a claim without a live process can never complete.
func (s *Store) ReleaseStaleClaims(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE sessions
         SET failed_stage = running_stage,
             last_error = 'interrupted by daemon restart',
             error_kind = 'external_failure',
             running_stage = '',
             updated_at = ?
         WHERE running_stage != ''`,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return res.RowsAffected()
}

const sessionColumns = `id, session_id, title, running_stage, failed_stage, last_error,
    error_kind, completed_json, params_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess          Session
		running       string
		failed        string
		completedJSON string
		paramsJSON    string
		createdAt     string
		updatedAt     string
	)
	if err := row.Scan(&sess.ID, &sess.SessionID, &sess.Title, &running, &failed,
		&sess.LastError, &sess.ErrorKind, &completedJSON, &paramsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sess.RunningStage = pipeline.StageName(running)
	sess.FailedStage = pipeline.StageName(failed)

	completed := map[string]bool{}
	if completedJSON != "" {
		if err := json.Unmarshal([]byte(completedJSON), &completed); err != nil {
			return nil, fmt.Errorf("decode completion flags: %w", err)
		}
	}
	sess.Completed = make(map[pipeline.StageName]bool, len(completed))
	for name, done := range completed {
		sess.Completed[pipeline.StageName(name)] = done
	}

	params := map[string]json.RawMessage{}
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return nil, fmt.Errorf("decode stage params: %w", err)
		}
	}
	sess.Params = make(map[pipeline.StageName]json.RawMessage, len(params))
	for name, raw := range params {
		sess.Params[pipeline.StageName(name)] = raw
	}

	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		sess.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		sess.UpdatedAt = ts
	}
	return &sess, nil
}

func completedMap(m map[pipeline.StageName]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for name, done := range m {
		if done {
			out[string(name)] = true
		}
	}
	return out
}

func paramsMap(m map[pipeline.StageName]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m))
	for name, raw := range m {
		out[string(name)] = raw
	}
	return out
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
