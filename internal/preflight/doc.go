// Package preflight provides readiness checks for the binaries, directories
// and render service that reelchain depends on.
//
// These checks run in two contexts:
//   - The daemon runs them at startup and logs every failure, then serves the
//     latest results from GET /api/status.
//   - The CLI "reelchain status" command renders the daemon's results, or runs
//     them locally when the daemon is not reachable.
package preflight
