// Package logging assembles structured slog loggers and formatting helpers used
// across the segmentation pipeline.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code automatically tags
// log lines with run IDs, stage names, and batch numbers. A fan-out handler
// lets a run mirror its log into the output dataset, and a progress sampler
// keeps long frame scans from flooding the console.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
