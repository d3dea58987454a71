// Package assembly turns transition windows into renumbered output segments.
//
// The Assembler walks the window list in fixed-size batches, extracts the
// frames of each window, optionally appends a placeholder frame between
// consecutive segments cut from the same original episode, hands every batch
// to a Writer and releases the frame data before the next batch is read.
// Index bookkeeping (segment numbers, the global frame counter, the
// original-to-new IndexMap and the task table) lives on the Assembler
// instance, so concurrent runs never share state.
package assembly
