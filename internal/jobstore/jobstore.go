// Package jobstore is the durable job record and sequenced pending
// queue: a single-file transactional relational store in WAL mode with
// foreign keys enforced, backed by modernc.org/sqlite (pure Go, no cgo).
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable job store. All operations are synchronous; callers
// are expected to invoke them off any event-loop goroutine.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite-backed job store at path,
// enabling WAL mode and foreign keys, and runs pending migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer store; avoid SQLITE_BUSY under WAL

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate job store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue assigns a new id and the next pending queue_position, and
// inserts the job with status pending. Idempotency is NOT
// guaranteed here; callers must pre-check IsDuplicate.
func (s *Store) Enqueue(ctx context.Context, f BookFields) (*Job, error) {
	now := time.Now().UTC()

	var nextPos int64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(queue_position), 0) + 1 FROM jobs WHERE status = ?`, string(StatusPending))
	if err := row.Scan(&nextPos); err != nil {
		return nil, fmt.Errorf("compute queue position: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (library_book_id, title, author, series, series_index,
			voice, status, chapters_total, chapters_done, error_message,
			source_path, cover_path, output_path, queue_position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, '', ?, ?, '', ?, ?)`,
		f.LibraryBookID, f.Title, f.Author, f.Series, f.SeriesIndex,
		f.Voice, string(StatusPending), f.SourcePath, f.CoverPath, nextPos, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted job id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// IsDuplicate reports whether any job for libraryBookID exists with a
// status other than failed. Failed jobs may be retried or
// re-enqueued.
func (s *Store) IsDuplicate(ctx context.Context, libraryBookID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM jobs WHERE library_book_id = ? AND status != ?`,
		libraryBookID, string(StatusFailed),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return count > 0, nil
}

// NextPending returns the pending job with the smallest
// COALESCE(queue_position, id), or nil if none is pending.
func (s *Store) NextPending(ctx context.Context) (*Job, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE status = ?
		ORDER BY COALESCE(queue_position, id) ASC
		LIMIT 1`, string(StatusPending),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query next pending: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by id, failing with ErrNotFound if it doesn't
// exist.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectJobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// StartJob transitions a job out of pending into newStatus, setting
// started_at on the first such transition and chapters_total if given.
func (s *Store) StartJob(ctx context.Context, id int64, newStatus Status, chaptersTotal int) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}

	// A chaptersTotal of zero or less means "not given": keep the stored value.
	total := job.ChaptersTotal
	if chaptersTotal > 0 {
		total = chaptersTotal
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if job.StartedAt != nil {
		_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, chapters_total = ? WHERE id = ?`,
			string(newStatus), total, id)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, chapters_total = ?, started_at = ? WHERE id = ?`,
			string(newStatus), total, now, id)
	}
	if err != nil {
		return fmt.Errorf("start job %d: %w", id, err)
	}
	return nil
}

// UpdateProgress records a status/chapters_done transition during the
// synthesizing|building phases. It's also
// used by the Worker to re-queue a job at its current progress on pause
// (status set back to pending).
func (s *Store) UpdateProgress(ctx context.Context, id int64, status Status, chaptersDone int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, chapters_done = ? WHERE id = ?`,
		string(status), chaptersDone, id)
	if err != nil {
		return fmt.Errorf("update progress for job %d: %w", id, err)
	}
	return nil
}

// CompleteJob is the terminal OK transition.
func (s *Store) CompleteJob(ctx context.Context, id int64, outputPath string, durationSeconds float64, fileSizeBytes int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, output_path = ?, duration_seconds = ?, file_size_bytes = ?,
			completed_at = ?, queue_position = NULL
		WHERE id = ?`,
		string(StatusComplete), outputPath, durationSeconds, fileSizeBytes, now, id,
	)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	return nil
}

// FailJob is the terminal failure transition, valid from any non-terminal
// state.
func (s *Store) FailJob(ctx context.Context, id int64, message string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, error_message = ?, completed_at = ?, queue_position = NULL
		WHERE id = ?`,
		string(StatusFailed), message, now, id,
	)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", id, err)
	}
	return nil
}

// CancelJob is a no-op if the job is already terminal; otherwise it fails
// the job with a fixed "Cancelled by user" message.
func (s *Store) CancelJob(ctx context.Context, id int64) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.terminal() {
		return nil
	}
	return s.FailJob(ctx, id, "Cancelled by user")
}

// RetryJob is only valid from status failed: it resets status to pending,
// clears timestamps/error, and assigns a fresh queue_position.
func (s *Store) RetryJob(ctx context.Context, id int64) (*Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusFailed {
		return nil, fmt.Errorf("%w: retry_job requires status failed, got %s", ErrStateConflict, job.Status)
	}

	var nextPos int64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(queue_position), 0) + 1 FROM jobs WHERE status = ?`, string(StatusPending))
	if err := row.Scan(&nextPos); err != nil {
		return nil, fmt.Errorf("compute retry queue position: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, chapters_done = 0, error_message = '', started_at = NULL,
			completed_at = NULL, queue_position = ?
		WHERE id = ?`,
		string(StatusPending), nextPos, id,
	)
	if err != nil {
		return nil, fmt.Errorf("retry job %d: %w", id, err)
	}
	return s.GetJob(ctx, id)
}

// Reorder sets queue_position to each id's 1-based index in jobIDs, for
// whichever of those ids are currently pending; non-pending ids are
// silently skipped.
func (s *Store) Reorder(ctx context.Context, jobIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}
	defer tx.Rollback()

	for i, id := range jobIDs {
		_, err := tx.ExecContext(ctx, `UPDATE jobs SET queue_position = ? WHERE id = ? AND status = ?`,
			i+1, id, string(StatusPending))
		if err != nil {
			return fmt.Errorf("reorder job %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// GetResumable returns all jobs whose status is extracting, synthesizing,
// or building — work that was in flight when the process last exited.
func (s *Store) GetResumable(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJobColumns+` FROM jobs WHERE status IN (?, ?, ?)`,
		string(StatusExtracting), string(StatusSynthesizing), string(StatusBuilding))
	if err != nil {
		return nil, fmt.Errorf("query resumable jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountJobs counts jobs, optionally filtered by status.
func (s *Store) CountJobs(ctx context.Context, status Status) (int, error) {
	var count int
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE status = ?`, string(status)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// ListJobs returns jobs optionally filtered by status, newest first,
// bounded by limit/offset (0 limit means unbounded).
func (s *Store) ListJobs(ctx context.Context, status Status, limit, offset int) ([]*Job, error) {
	query := selectJobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListPending returns all pending jobs in release order, smallest
// COALESCE(queue_position, id) first.
func (s *Store) ListPending(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJobColumns+`
		FROM jobs WHERE status = ?
		ORDER BY COALESCE(queue_position, id) ASC`, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// QueueSummary tallies job counts by status.
func (s *Store) QueueSummary(ctx context.Context) (QueueSummary, error) {
	var sum QueueSummary
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return sum, fmt.Errorf("query queue summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return sum, fmt.Errorf("scan queue summary: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			sum.Pending = count
		case StatusExtracting:
			sum.Extracting = count
		case StatusSynthesizing:
			sum.Synthesizing = count
		case StatusBuilding:
			sum.Building = count
		case StatusComplete:
			sum.Complete = count
		case StatusFailed:
			sum.Failed = count
		}
	}
	return sum, rows.Err()
}

const selectJobColumns = `
	SELECT id, library_book_id, title, author, series, series_index, voice,
		status, chapters_total, chapters_done, error_message, source_path,
		cover_path, output_path, queue_position, duration_seconds,
		file_size_bytes, created_at, started_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var status string
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&j.ID, &j.LibraryBookID, &j.Title, &j.Author, &j.Series, &j.SeriesIndex, &j.Voice,
		&status, &j.ChaptersTotal, &j.ChaptersDone, &j.ErrorMessage, &j.SourcePath,
		&j.CoverPath, &j.OutputPath, &j.QueuePosition, &j.DurationSeconds, &j.FileSizeBytes,
		&createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = Status(status)
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		j.CompletedAt = &t
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
