// Package api defines the wire-format types shared by the daemon HTTP API and
// the CLI client, plus converters from internal job models.
//
// # Key Types
//
// Job and Stage: the full attempt log of one job, including superseded
// attempts, with a derived NextAction hint for reviewers.
//
// JobSummary: one row of the job index, used by list views.
//
// DaemonStatus: scheduler counters, render service reachability, binary
// dependencies and preflight results.
//
// # Design Notes
//
// DTOs use snake_case JSON tags so payloads read the same as job_state.json.
// Timestamps use RFC3339 with milliseconds. Error details carry the stable
// kind string from the services taxonomy so clients can branch on it.
package api
