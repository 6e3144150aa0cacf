package models

import "time"

// WatchState is a row in playlist_watch: one per tracked playlist, holding
// the adaptive polling schedule for the watcher.
type WatchState struct {
	PlaylistID          string     `json:"playlist_id"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
	NextPollAt          *time.Time `json:"next_poll_at,omitempty"`
	CurrentIntervalMin  int        `json:"current_interval_min"`
	ConsecutiveNoChange int        `json:"consecutive_no_change"`
	LastChangeAt        *time.Time `json:"last_change_at,omitempty"`
	SkipReason          string     `json:"skip_reason,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
}

// WatcherStatus is the point-in-time snapshot the watcher supervisor
// publishes for the status API.
type WatcherStatus struct {
	State                 string     `json:"state"`
	LastPollAt            *time.Time `json:"last_poll_at,omitempty"`
	NextPollAt            *time.Time `json:"next_poll_at,omitempty"`
	PendingPlaylistsCount int        `json:"pending_playlists_count"`
	QuietWindowRemaining  *int       `json:"quiet_window_remaining_sec,omitempty"`
	BatchActive           bool       `json:"batch_active"`
}
