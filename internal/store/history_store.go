package store

import (
	"time"

	"github.com/sudoStacks/retreivr/internal/models"
)

// RecordDownload writes one audit row for a completed download.
func (s *Store) RecordDownload(job *models.DownloadJob, title, filePath string) error {
	_, err := s.db.Exec(
		`INSERT INTO download_history (job_id, trace_id, source, url, title, file_path, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TraceID, job.Source, job.URL, title, filePath, job.CreatedAt, time.Now().UTC(),
	)
	return err
}

// ListHistory returns completed downloads, newest first.
func (s *Store) ListHistory(limit int) ([]*models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, job_id, trace_id, source, url, title, file_path, created_at, completed_at
		 FROM download_history ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.TraceID, &e.Source, &e.URL, &e.Title, &e.FilePath, &e.CreatedAt, &e.CompletedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
