// Package pipeline runs a complete cut: it locks the output directory, opens
// the source dataset, finds gripper transitions, labels the resulting windows
// and streams them through the assembler into the output writer.
//
// Every run is recorded in the ledger. Batches the writer accepted are
// recorded too, so a failed run can be resumed with the same run id and only
// the missing batches are written again.
package pipeline
