// Watch state and seen-ledger persistence for the playlist watcher.

package store

import (
	"database/sql"
	"time"

	"github.com/sudoStacks/retreivr/internal/models"
)

// GetWatchState returns the watch state for a playlist, or nil if the
// playlist has never been polled.
func (s *Store) GetWatchState(playlistID string) (*models.WatchState, error) {
	row := s.db.QueryRow(
		`SELECT playlist_id, last_checked_at, next_poll_at, current_interval_min,
		        consecutive_no_change, last_change_at, skip_reason, last_error, last_error_at
		 FROM playlist_watch WHERE playlist_id = ?`, playlistID)
	state, err := scanWatchState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return state, err
}

// ListWatchStates returns the watch state of every tracked playlist keyed by
// playlist ID.
func (s *Store) ListWatchStates() (map[string]*models.WatchState, error) {
	rows, err := s.db.Query(
		`SELECT playlist_id, last_checked_at, next_poll_at, current_interval_min,
		        consecutive_no_change, last_change_at, skip_reason, last_error, last_error_at
		 FROM playlist_watch`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]*models.WatchState)
	for rows.Next() {
		state, err := scanWatchState(rows)
		if err != nil {
			return nil, err
		}
		states[state.PlaylistID] = state
	}
	return states, rows.Err()
}

// UpsertWatchState writes the full watch state row for a playlist.
func (s *Store) UpsertWatchState(state *models.WatchState) error {
	_, err := s.db.Exec(
		`INSERT INTO playlist_watch (
			playlist_id, last_checked_at, next_poll_at, current_interval_min,
			consecutive_no_change, last_change_at, skip_reason, last_error, last_error_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(playlist_id) DO UPDATE SET
			last_checked_at = excluded.last_checked_at,
			next_poll_at = excluded.next_poll_at,
			current_interval_min = excluded.current_interval_min,
			consecutive_no_change = excluded.consecutive_no_change,
			last_change_at = excluded.last_change_at,
			skip_reason = excluded.skip_reason,
			last_error = excluded.last_error,
			last_error_at = excluded.last_error_at`,
		state.PlaylistID, timePtrValue(state.LastCheckedAt), timePtrValue(state.NextPollAt),
		state.CurrentIntervalMin, state.ConsecutiveNoChange, timePtrValue(state.LastChangeAt),
		nullIfEmpty(state.SkipReason), nullIfEmpty(state.LastError), timePtrValue(state.LastErrorAt),
	)
	return err
}

// HasSeenItems reports whether any item has ever been recorded for the
// playlist. Used to detect subscribe-mode first runs.
func (s *Store) HasSeenItems(playlistID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM playlist_items WHERE playlist_id = ? LIMIT 1", playlistID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// IsItemSeen reports whether an item has been recorded for the playlist.
func (s *Store) IsItemSeen(playlistID, itemID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM playlist_items WHERE playlist_id = ? AND item_id = ? LIMIT 1",
		playlistID, itemID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// MarkItemSeen records an item in the seen ledger. The downloaded flag is
// sticky: once set it is never cleared by a later non-downloaded sighting.
func (s *Store) MarkItemSeen(playlistID, itemID string, downloaded bool) error {
	_, err := s.db.Exec(
		`INSERT INTO playlist_items (playlist_id, item_id, first_seen_at, downloaded)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(playlist_id, item_id) DO UPDATE SET
			downloaded = MAX(playlist_items.downloaded, excluded.downloaded)`,
		playlistID, itemID, time.Now().UTC(), boolToInt(downloaded),
	)
	return err
}

// IsItemDownloaded reports whether an item has been downloaded through any
// playlist.
func (s *Store) IsItemDownloaded(itemID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM playlist_items WHERE item_id = ? AND downloaded = 1 LIMIT 1", itemID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// CountSeenItems returns how many items are recorded for a playlist.
func (s *Store) CountSeenItems(playlistID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM playlist_items WHERE playlist_id = ?", playlistID,
	).Scan(&count)
	return count, err
}

func scanWatchState(row rowScanner) (*models.WatchState, error) {
	var state models.WatchState
	var lastChecked, nextPoll, lastChange, lastErrorAt sql.NullTime
	var skipReason, lastError sql.NullString

	err := row.Scan(
		&state.PlaylistID, &lastChecked, &nextPoll, &state.CurrentIntervalMin,
		&state.ConsecutiveNoChange, &lastChange, &skipReason, &lastError, &lastErrorAt,
	)
	if err != nil {
		return nil, err
	}
	state.LastCheckedAt = nullTimePtr(lastChecked)
	state.NextPollAt = nullTimePtr(nextPoll)
	state.LastChangeAt = nullTimePtr(lastChange)
	state.SkipReason = skipReason.String
	state.LastError = lastError.String
	state.LastErrorAt = nullTimePtr(lastErrorAt)
	return &state, nil
}

func timePtrValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
