// Package queue maintains the SQLite index of jobs used for fast listing and
// status summaries.
//
// The index is a derived view: every job's job_state.json snapshot is the
// source of truth, the orchestrator upserts a row after each persisted
// transition, and Rebuild repopulates the table from snapshots on startup.
// Losing the database loses nothing. Schema changes bump schemaVersion in
// schema.go; an index with a different version is dropped and rebuilt.
package queue
