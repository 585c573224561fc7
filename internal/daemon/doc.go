// Package daemon hosts the long-running reelchain process: it owns the
// single-instance lock, starts the task scheduler, resumes persisted jobs
// and serves the HTTP API used by the CLI and other reviewers.
//
// Handlers translate orchestrator errors into HTTP statuses by error kind, so
// validation problems surface as 400s, unknown jobs as 404s and rejected
// state transitions as 409s.
package daemon
