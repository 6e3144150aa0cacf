// Durable download job queue. Jobs move queued -> running -> one of
// completed/failed, retries re-enter the queued pool with a deferred
// queued_at, and any non-terminal job can be canceled. ClaimNextJob is the
// only way a job becomes running and enforces one running job per source.

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sudoStacks/retreivr/internal/models"
)

// ErrInvalidJob is returned by EnqueueJob when the dedup key inputs are
// malformed. Such jobs are rejected, never stored.
var ErrInvalidJob = errors.New("invalid job: origin, source and url are required")

const jobColumns = `id, origin, origin_id, media_type, media_intent, source, url,
	status, queued_at, running_at, completed_at, failed_at, canceled_at,
	attempts, max_attempts, created_at, updated_at, last_error, trace_id, output_template`

// EnqueueParams carries the caller-owned fields of a new download job.
type EnqueueParams struct {
	Origin         string
	OriginID       string
	MediaType      string
	MediaIntent    string
	Source         string
	URL            string
	OutputTemplate string
	MaxAttempts    int
}

// EnqueueJob inserts a new queued job, or returns the existing job ID when a
// job with the same (origin, origin_id, url) dedup key is still non-terminal.
// The second return value reports whether a new row was created.
func (s *Store) EnqueueJob(p EnqueueParams) (string, bool, error) {
	if strings.TrimSpace(p.Origin) == "" || strings.TrimSpace(p.Source) == "" || strings.TrimSpace(p.URL) == "" {
		return "", false, ErrInvalidJob
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	// Dedup: at most one non-terminal job per (origin, origin_id, url).
	var existingID string
	err = tx.QueryRow(
		`SELECT id FROM download_jobs
		 WHERE origin = ? AND origin_id = ? AND url = ?
		   AND status NOT IN (?, ?, ?)
		 LIMIT 1`,
		p.Origin, p.OriginID, p.URL,
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCanceled,
	).Scan(&existingID)
	if err == nil {
		return existingID, false, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return "", false, err
	}

	jobID := uuid.NewString()
	traceID := uuid.NewString()
	now := time.Now().UTC()
	_, err = tx.Exec(
		`INSERT INTO download_jobs (
			id, origin, origin_id, media_type, media_intent, source, url,
			status, queued_at, attempts, max_attempts, created_at, updated_at,
			trace_id, output_template
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		jobID, p.Origin, p.OriginID, p.MediaType, p.MediaIntent, p.Source, p.URL,
		models.JobStatusQueued, now, p.MaxAttempts, now, now, traceID, p.OutputTemplate,
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert job: %w", err)
	}
	return jobID, true, tx.Commit()
}

// ClaimNextJob atomically claims the oldest due queued job for a source and
// transitions it to running. It returns nil when the source already has a
// running job or when nothing is due. The whole operation runs in a single
// immediate transaction so concurrent claimers for the same source cannot
// both win.
func (s *Store) ClaimNextJob(source string, now time.Time) (*models.DownloadJob, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// One in-flight job per source: bail out if the source is busy.
	var busy int
	err = tx.QueryRow(
		"SELECT 1 FROM download_jobs WHERE status = ? AND source = ? LIMIT 1",
		models.JobStatusRunning, source,
	).Scan(&busy)
	if err == nil {
		return nil, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	row := tx.QueryRow(
		`SELECT `+jobColumns+` FROM download_jobs
		 WHERE status = ? AND source = ? AND (queued_at IS NULL OR queued_at <= ?)
		 ORDER BY created_at ASC
		 LIMIT 1`,
		models.JobStatusQueued, source, now.UTC(),
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.Exec(
		`UPDATE download_jobs SET status = ?, running_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.JobStatusRunning, now.UTC(), now.UTC(), job.ID, models.JobStatusQueued,
	)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected != 1 {
		return nil, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	runningAt := now.UTC()
	job.Status = models.JobStatusRunning
	job.RunningAt = &runningAt
	job.UpdatedAt = runningAt
	return job, nil
}

// MarkCompleted transitions a job to completed. Calling it twice is a no-op
// on the second call.
func (s *Store) MarkCompleted(jobID string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE download_jobs SET status = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?, ?)`,
		models.JobStatusCompleted, now, now, jobID,
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCanceled,
	)
	return err
}

// CancelJob cancels a queued or running job. It reports whether the job was
// actually canceled; false means the job was already terminal (or unknown).
func (s *Store) CancelJob(jobID, reason string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE download_jobs SET status = ?, canceled_at = ?, updated_at = ?, last_error = ?
		 WHERE id = ? AND status IN (?, ?)`,
		models.JobStatusCanceled, now, now, reason, jobID,
		models.JobStatusQueued, models.JobStatusRunning,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// CancelActiveJobs cancels every non-terminal job and returns how many rows
// were affected.
func (s *Store) CancelActiveJobs(reason string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE download_jobs SET status = ?, canceled_at = ?, updated_at = ?, last_error = ?
		 WHERE status IN (?, ?)`,
		models.JobStatusCanceled, now, now, reason,
		models.JobStatusQueued, models.JobStatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordFailure increments the attempt counter and either re-queues the job
// with a deferred queued_at (retryable failures with attempts remaining) or
// marks it failed. A non-retryable failure is terminal regardless of the
// remaining attempt budget. Only a running job can fail: a report landing
// after the job was canceled (or otherwise finalized) leaves the row alone
// and returns its actual status. The resulting status is returned.
func (s *Store) RecordFailure(job *models.DownloadJob, errorMessage string, retryable bool, retryDelay time.Duration) (string, error) {
	attempts := job.Attempts + 1
	now := time.Now().UTC()

	if retryable && attempts < job.MaxAttempts {
		nextReady := now.Add(retryDelay)
		res, err := s.db.Exec(
			`UPDATE download_jobs SET status = ?, queued_at = ?, updated_at = ?, attempts = ?, last_error = ?
			 WHERE id = ? AND status = ?`,
			models.JobStatusQueued, nextReady, now, attempts, errorMessage, job.ID, models.JobStatusRunning,
		)
		if err != nil {
			return "", err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", err
		}
		if affected == 0 {
			return s.jobStatus(job.ID)
		}
		return models.JobStatusQueued, nil
	}

	res, err := s.db.Exec(
		`UPDATE download_jobs SET status = ?, failed_at = ?, updated_at = ?, attempts = ?, last_error = ?
		 WHERE id = ? AND status = ?`,
		models.JobStatusFailed, now, now, attempts, errorMessage, job.ID, models.JobStatusRunning,
	)
	if err != nil {
		return "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return s.jobStatus(job.ID)
	}
	return models.JobStatusFailed, nil
}

// jobStatus reads a job's current status.
func (s *Store) jobStatus(jobID string) (string, error) {
	var status string
	err := s.db.QueryRow("SELECT status FROM download_jobs WHERE id = ?", jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("job %s not found", jobID)
	}
	return status, err
}

// ListSourcesWithQueuedJobs returns the distinct sources that have at least
// one queued job due at or before now.
func (s *Store) ListSourcesWithQueuedJobs(now time.Time) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT DISTINCT source FROM download_jobs WHERE status = ? AND (queued_at IS NULL OR queued_at <= ?)",
		models.JobStatusQueued, now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// GetJob fetches a single job by ID.
func (s *Store) GetJob(jobID string) (*models.DownloadJob, error) {
	row := s.db.QueryRow("SELECT "+jobColumns+" FROM download_jobs WHERE id = ?", jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(status string, limit int) ([]*models.DownloadJob, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + jobColumns + " FROM download_jobs"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.DownloadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RequeueRunningJobs puts jobs stranded in running back into the queued pool.
// Called once on startup: a running row with no live process behind it can
// only mean the previous process died mid-download.
func (s *Store) RequeueRunningJobs() (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE download_jobs SET status = ?, queued_at = ?, running_at = NULL, updated_at = ?
		 WHERE status = ?`,
		models.JobStatusQueued, now, now, models.JobStatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.DownloadJob, error) {
	var job models.DownloadJob
	var queuedAt, runningAt, completedAt, failedAt, canceledAt sql.NullTime
	var lastError, outputTemplate sql.NullString

	err := row.Scan(
		&job.ID, &job.Origin, &job.OriginID, &job.MediaType, &job.MediaIntent,
		&job.Source, &job.URL, &job.Status,
		&queuedAt, &runningAt, &completedAt, &failedAt, &canceledAt,
		&job.Attempts, &job.MaxAttempts, &job.CreatedAt, &job.UpdatedAt,
		&lastError, &job.TraceID, &outputTemplate,
	)
	if err != nil {
		return nil, err
	}
	job.QueuedAt = nullTimePtr(queuedAt)
	job.RunningAt = nullTimePtr(runningAt)
	job.CompletedAt = nullTimePtr(completedAt)
	job.FailedAt = nullTimePtr(failedAt)
	job.CanceledAt = nullTimePtr(canceledAt)
	job.LastError = lastError.String
	job.OutputTemplate = outputTemplate.String
	return &job, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
