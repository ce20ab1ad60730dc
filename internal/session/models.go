package session

import (
	"bytes"
	"encoding/json"
	"time"

	"revoice/internal/pipeline"
)

// Session represents one pipeline run persisted in SQLite.
type Session struct {
	ID           int64
	SessionID    string
	Title        string
	RunningStage pipeline.StageName
	FailedStage  pipeline.StageName
	LastError    string
	ErrorKind    string
	Completed    map[pipeline.StageName]bool
	Params       map[pipeline.StageName]json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Flags projects the session's persisted state into the pipeline's
// state-derivation input. hasSource is supplied by the caller because the
// upload lives in the artifact store, not on the session row.
func (s *Session) Flags(hasSource bool) pipeline.Flags {
	completed := make(map[pipeline.StageName]bool, len(s.Completed))
	for name, done := range s.Completed {
		completed[name] = done
	}
	return pipeline.Flags{
		Completed: completed,
		Running:   s.RunningStage,
		Failed:    s.FailedStage,
		HasSource: hasSource,
	}
}

// MarkCompleted records a successful stage run and clears any failure state.
func (s *Session) MarkCompleted(stage pipeline.StageName) {
	if s.Completed == nil {
		s.Completed = make(map[pipeline.StageName]bool)
	}
	s.Completed[stage] = true
	s.RunningStage = ""
	if s.FailedStage == stage {
		s.FailedStage = ""
		s.LastError = ""
		s.ErrorKind = ""
	}
}

// MarkFailed records a definitive stage failure.
func (s *Session) MarkFailed(stage pipeline.StageName, message, kind string) {
	s.RunningStage = ""
	s.FailedStage = stage
	s.LastError = message
	s.ErrorKind = kind
}

// ResetFrom clears completion, failure, and recorded parameters for the named
// stage and every downstream stage. Upstream state is untouched.
func (s *Session) ResetFrom(stage pipeline.StageName) {
	for _, name := range pipeline.FromStage(stage) {
		delete(s.Completed, name)
		delete(s.Params, name)
		if s.FailedStage == name {
			s.FailedStage = ""
			s.LastError = ""
			s.ErrorKind = ""
		}
	}
}

// SetParams records the parameters used for a stage invocation. An empty
// payload means the stage ran on its defaults and is stored as {} so the
// params map always marshals cleanly.
func (s *Session) SetParams(stage pipeline.StageName, raw json.RawMessage) {
	if s.Params == nil {
		s.Params = make(map[pipeline.StageName]json.RawMessage)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	s.Params[stage] = cp
}
