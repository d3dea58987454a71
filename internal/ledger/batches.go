package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Batch is a batch the output writer accepted.
type Batch struct {
	RunID        string
	Index        int
	FirstSegment int
	LastSegment  int
	Frames       int
	CommittedAt  time.Time
}

// CommitBatch records b. Committing the same batch twice overwrites the row.
func (s *Store) CommitBatch(ctx context.Context, b Batch) error {
	if b.CommittedAt.IsZero() {
		b.CommittedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO batches (run_id, batch_index, first_segment, last_segment, frames, committed_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id, batch_index) DO UPDATE SET
             first_segment = excluded.first_segment,
             last_segment = excluded.last_segment,
             frames = excluded.frames,
             committed_at = excluded.committed_at`,
		b.RunID, b.Index, b.FirstSegment, b.LastSegment, b.Frames, formatTime(b.CommittedAt),
	)
	if err != nil {
		return fmt.Errorf("commit batch %d: %w", b.Index, err)
	}
	return nil
}

// CommittedBatches returns the batches of runID in batch order.
func (s *Store) CommittedBatches(ctx context.Context, runID string) ([]Batch, error) {
	rows, err := s.db.QueryContext(orBackground(ctx),
		`SELECT run_id, batch_index, first_segment, last_segment, frames, committed_at
         FROM batches WHERE run_id = ? ORDER BY batch_index`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var (
			b   Batch
			raw sql.NullString
		)
		if err := rows.Scan(&b.RunID, &b.Index, &b.FirstSegment, &b.LastSegment, &b.Frames, &raw); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.CommittedAt = scanTime(raw)
		out = append(out, b)
	}
	return out, rows.Err()
}

// CommittedSet returns the committed batch indices of runID.
func (s *Store) CommittedSet(ctx context.Context, runID string) (map[int]bool, error) {
	batches, err := s.CommittedBatches(ctx, runID)
	if err != nil {
		return nil, err
	}
	set := make(map[int]bool, len(batches))
	for _, b := range batches {
		set[b.Index] = true
	}
	return set, nil
}
