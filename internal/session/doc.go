// Package session persists pipeline sessions in SQLite and exposes helpers
// for driving their lifecycle.
//
// A session row records per-stage completion flags, the parameters each stage
// ran with, the single running-stage claim, and the last failure. ClaimStage
// is the single-writer guard: a conditional update that succeeds only while
// no stage of that session is running. The database is transient storage for
// in-flight work; schema changes bump the version in schema.go and users
// delete the database to adopt the new schema.
//
// The artifacts package shares this store's database handle for its index.
package session
