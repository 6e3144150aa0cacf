package models

// ProgressUpdate is the payload broadcast over the websocket hub whenever a
// job changes state.
type ProgressUpdate struct {
	JobID   string `json:"job_id"`
	TraceID string `json:"trace_id,omitempty"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
	Status  string `json:"status"` // e.g. "running", "completed", "failed"
	Done    bool   `json:"done"`
}
