// Package comfyui implements the render service client used by the
// orchestrator to submit segment workflows, poll their progress, and download
// the rendered video.
//
// Every call is bounded by its own timeout. Poll is single-shot; the caller
// owns the polling cadence. Transport failures during polling are reported as
// pending until a per-handle consecutive failure bound is reached, after which
// the render is reported failed as unreachable.
package comfyui
