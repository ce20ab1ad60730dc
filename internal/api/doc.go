// Package api defines the wire types shared by the daemon's HTTP surface and
// the CLI, the error-to-status mapping for the uniform error envelope, and
// the HTTP client the CLI uses to drive a running daemon.
package api
