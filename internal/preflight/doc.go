// Package preflight provides readiness checks for the paths and services a
// cutting run depends on.
//
// These checks run in two contexts:
//   - The pipeline calls RunAll after opening the source dataset. A failed
//     check aborts the run before any frame is read for output.
//   - The CLI "datadealer preflight" command prints every result as a table.
//
// The caption check only runs for providers backed by a remote service.
package preflight
