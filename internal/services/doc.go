// Package services defines shared utilities consumed by the orchestrator and
// the external integrations it drives.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage indexes, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the stable kinds persisted with each stage attempt.
//
// Use these helpers when wiring new integrations so error handling and
// observability stay uniform across the pipeline.
package services
