package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one pipeline invocation.
type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       Status
	Source       string
	Output       string
	Windows      int
	Segments     int
	Frames       int
	ReadFailures int
	Error        string

	// WindowsDigest identifies the window list and assembly settings the
	// run committed batches against. Empty until the windows are fixed.
	WindowsDigest string
}

// Duration returns the wall time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Result carries the totals recorded when a run finishes.
type Result struct {
	Status       Status
	Windows      int
	Segments     int
	Frames       int
	ReadFailures int
	Err          error
}

const runColumns = "id, started_at, finished_at, status, source, output, windows, segments, frames, read_failures, windows_digest, error"

// StartRun inserts a running row.
func (s *Store) StartRun(ctx context.Context, id, source, output string) (*Run, error) {
	now := time.Now().UTC()
	if _, err := s.exec(ctx,
		`INSERT INTO runs (id, started_at, status, source, output) VALUES (?, ?, ?, ?, ?)`,
		id, now.Format(time.RFC3339Nano), StatusRunning, source, output,
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// ReopenRun marks an earlier run as running again so its committed batches
// can be skipped.
func (s *Store) ReopenRun(ctx context.Context, id string) (*Run, error) {
	res, err := s.exec(ctx,
		`UPDATE runs SET status = ?, finished_at = NULL, error = NULL WHERE id = ?`,
		StatusRunning, id,
	)
	if err != nil {
		return nil, fmt.Errorf("reopen run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return s.GetRun(ctx, id)
}

// SetWindowsDigest records the digest of the windows a run assembles.
func (s *Store) SetWindowsDigest(ctx context.Context, id, digest string) error {
	res, err := s.exec(ctx, `UPDATE runs SET windows_digest = ? WHERE id = ?`, nullString(digest), id)
	if err != nil {
		return fmt.Errorf("set windows digest: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return nil
}

// FinishRun records totals and the final status.
func (s *Store) FinishRun(ctx context.Context, id string, result Result) error {
	status := result.Status
	if status == "" {
		status = StatusCompleted
		if result.Err != nil {
			status = StatusFailed
		}
	}
	var message string
	if result.Err != nil {
		message = result.Err.Error()
	}
	res, err := s.exec(ctx,
		`UPDATE runs
         SET finished_at = ?, status = ?, windows = ?, segments = ?, frames = ?, read_failures = ?, error = ?
         WHERE id = ?`,
		formatTime(time.Now()), status, result.Windows, result.Segments, result.Frames, result.ReadFailures,
		nullString(message), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return nil
}

// GetRun fetches a run by id; a missing run returns nil without error.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(orBackground(ctx), `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Runs lists the most recent runs first. limit <= 0 returns every run.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(orBackground(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run        Run
		startedRaw sql.NullString
		finished   sql.NullString
		status     string
		digest     sql.NullString
		errMessage sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&startedRaw,
		&finished,
		&status,
		&run.Source,
		&run.Output,
		&run.Windows,
		&run.Segments,
		&run.Frames,
		&run.ReadFailures,
		&digest,
		&errMessage,
	); err != nil {
		return nil, err
	}
	run.StartedAt = scanTime(startedRaw)
	run.FinishedAt = scanTime(finished)
	run.Status = Status(status)
	run.WindowsDigest = digest.String
	run.Error = errMessage.String
	return &run, nil
}
