// Package main hosts the datadealer CLI entrypoint and command graph.
//
// The Cobra-based command tree turns terminal invocations into pipeline runs,
// analysis-only scans, output inspection, run history queries, preflight
// checks, and configuration scaffolding. It centralizes configuration
// resolution and logger setup so subcommands can focus on presentation.
//
// Keep this package lean: new behaviour belongs in the internal packages and
// is surfaced here through dedicated commands or flags.
package main
