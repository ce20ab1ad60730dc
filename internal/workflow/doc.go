// Package workflow coordinates the audio pipeline: it validates stage
// requests, enforces the single-running-stage claim, executes handlers,
// and keeps session state and artifacts consistent across runs, re-runs,
// and resets.
package workflow
