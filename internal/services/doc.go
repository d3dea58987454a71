// Package services defines shared utilities consumed by the pipeline stages
// and the external caption integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, batch numbers, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures so
//     the CLI can report which stage failed and exit with a matching status.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
