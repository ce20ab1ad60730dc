// Package daemon runs the revoiced process: it owns the single-instance
// file lock, recovers stage claims left by a crash, and serves the HTTP API
// that exposes sessions, stage runs, status snapshots, and artifact
// downloads.
package daemon
