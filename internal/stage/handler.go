package stage

import (
	"context"
	"log/slog"

	"revoice/internal/session"
)

// Request carries one stage invocation: the session being advanced and the
// schema-validated parameters for this run.
type Request struct {
	Session *session.Session
	Params  any
}

// Handler describes the contract the workflow manager needs from each stage.
// Prepare resolves and verifies required inputs without side effects;
// Execute performs the external operation and saves outputs on success.
type Handler interface {
	Prepare(context.Context, *Request) error
	Execute(context.Context, *Request) error
	HealthCheck(context.Context) Health
}

// LoggerAware lets the manager hand a stage-scoped logger to a handler.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}
