// Package orchestrator drives chained video jobs through their stages.
//
// Each job has at most one attempt in flight. Submission, polling and
// assembly run as keyed tasks on the scheduler (the key is the job id), so
// a poll is a scheduled re-invocation rather than a sleeping worker. Every
// transition is written to the job's snapshot before anything else observes
// it; the SQLite index, the event bus and ntfy notifications follow.
//
// Network and ffmpeg work happens without holding the job lock. When a task
// re-acquires the lock it checks that the attempt it started with is still
// the one in flight; a cancel or shutdown in between makes the result moot.
//
// Human review decisions (continue, regenerate, abandon) are accepted only
// on the newest terminal attempt. Resume reloads every snapshot after a
// restart and re-polls in-flight attempts with their persisted handle.
package orchestrator
