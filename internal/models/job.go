package models

import "time"

// Job statuses. A job is terminal once it reaches completed, failed or
// canceled; terminal rows never transition again.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCanceled  = "canceled"
)

// DownloadJob is a row in the download_jobs table. OutputTemplate is an
// optional output path template handed through to the downloader tool; the
// queue stores it without interpreting it.
type DownloadJob struct {
	ID          string     `json:"id"`
	Origin      string     `json:"origin"`
	OriginID    string     `json:"origin_id"`
	MediaType   string     `json:"media_type"`
	MediaIntent string     `json:"media_intent"`
	Source      string     `json:"source"`
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	QueuedAt    *time.Time `json:"queued_at,omitempty"`
	RunningAt   *time.Time `json:"running_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastError   string     `json:"last_error,omitempty"`
	TraceID     string     `json:"trace_id"`

	OutputTemplate string `json:"output_template,omitempty"`
}

// IsTerminal reports whether the job has reached a final status.
func (j *DownloadJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// HistoryEntry is a row in download_history, written once per successful
// download for operator-facing audit.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	JobID       string    `json:"job_id"`
	TraceID     string    `json:"trace_id"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	FilePath    string    `json:"file_path"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
}
