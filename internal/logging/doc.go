// Package logging builds the slog loggers used across the daemon and CLI.
//
// It provides console and JSON handlers, attribute helpers, and context
// extraction so session IDs, stage names, and correlation IDs appear
// consistently on every record.
package logging
