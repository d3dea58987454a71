// Package ledger records cutting runs and their committed batches in SQLite.
//
// A run row is created before the first frame is read and closed with its
// totals when the pipeline stops. A batch row is written only after the output
// writer accepted the batch, so a resumed run can skip exactly the batches
// already on disk.
//
// The schema version lives in PRAGMA user_version. A ledger written by another
// version is rejected with ErrSchemaMismatch; users delete it to start over.
package ledger
