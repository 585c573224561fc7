// Package scheduler runs delayed, keyed tasks on a bounded worker pool.
//
// The orchestrator uses it for stage submission and polling: instead of
// sleeping inside a worker between polls, each poll schedules the next one
// under the job's key. Scheduling a key replaces any pending task for that
// key, and Cancel drops it. A task that has already been handed to a worker
// still runs, so tasks must re-check their own preconditions.
//
// Workers recover panics and log them with a stack trace; a misbehaving task
// never takes the daemon down.
package scheduler
