// The run manager serializes archive runs: at most one run executes at any
// time, and callers asking while one is active get a busy answer instead of
// a second run. The watcher supervisor uses it as its run trigger.

package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sudoStacks/retreivr/internal/watcher"
)

// RunFunc performs one archive run for a playlist: search candidates and
// enqueue the resulting download jobs. The queue drains them independently.
type RunFunc func(ctx context.Context, playlistID string) error

// RunStatus describes the last (or current) run of a playlist.
type RunStatus struct {
	PlaylistID string    `json:"playlist_id"`
	Status     string    `json:"status"` // "running", "success", "failed"
	Message    string    `json:"message,omitempty"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time,omitempty"`
}

// Manager guards archive runs with a single-run lock.
type Manager struct {
	mu      sync.Mutex
	running bool
	current string
	run     RunFunc
	history map[string]*RunStatus
}

// NewManager creates a run manager around the given run function.
func NewManager(run RunFunc) *Manager {
	return &Manager{
		run:     run,
		history: make(map[string]*RunStatus),
	}
}

// Trigger executes a run for the playlist and blocks until it finishes. If a
// run is already active it returns TriggerBusy without waiting. Panics inside
// the run function are contained and reported as a failed run.
func (m *Manager) Trigger(ctx context.Context, playlistID string) (watcher.TriggerResult, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return watcher.TriggerBusy, nil
	}
	m.running = true
	m.current = playlistID
	status := &RunStatus{PlaylistID: playlistID, Status: "running", StartTime: time.Now()}
	m.history[playlistID] = status
	m.mu.Unlock()

	log.Printf("Run started: playlist_id=%s", playlistID)
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("run panicked: %v", r)
			}
		}()
		runErr = m.run(ctx, playlistID)
	}()

	m.mu.Lock()
	status.EndTime = time.Now()
	if runErr != nil {
		status.Status = "failed"
		status.Message = runErr.Error()
	} else {
		status.Status = "success"
		status.Message = "Run completed successfully."
	}
	m.running = false
	m.current = ""
	m.mu.Unlock()

	if runErr != nil {
		log.Printf("Run failed: playlist_id=%s: %v", playlistID, runErr)
		return watcher.TriggerStarted, runErr
	}
	log.Printf("Run finished: playlist_id=%s", playlistID)
	return watcher.TriggerStarted, nil
}

// Running reports whether a run is currently active, and for which playlist.
func (m *Manager) Running() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, m.current
}

// GetStatus returns the last run status of every playlist.
func (m *Manager) GetStatus() []*RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make([]*RunStatus, 0, len(m.history))
	for _, s := range m.history {
		copied := *s
		statuses = append(statuses, &copied)
	}
	return statuses
}
