// Package logging builds the structured slog loggers shared by the daemon and
// CLI.
//
// Two output formats are supported: a console handler that renders one header
// line per record followed by indented fields, and a JSON handler for log
// files and shipping. The helpers in this package standardise field names
// (component, job_id, stage_index, event_type) so records from the
// orchestrator, render client, and assembler can be correlated.
package logging
