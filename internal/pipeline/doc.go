// Package pipeline defines the fixed stage order of a re-voicing session and
// the rules that govern it: which artifact kinds each stage consumes and
// produces, which stages gate which, how per-stage states derive from a
// session's persisted flags, and the parameter schema each stage validates
// against before anything external runs.
//
// Stage definitions are immutable and shared process-wide; only completion,
// failure, and running state is per-session. Treat this package as the single
// source of truth for ordering and gating semantics.
package pipeline
