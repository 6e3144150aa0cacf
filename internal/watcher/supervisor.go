// The watcher supervisor is a single cooperative loop that polls tracked
// playlists on an adaptive schedule, coalesces detected changes behind a
// quiet window, and hands batches to the run trigger one playlist at a time.
// It never enqueues downloads itself.

package watcher

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sudoStacks/retreivr/internal/models"
	"github.com/sudoStacks/retreivr/internal/store"
)

// Supervisor states.
const (
	StateDisabled           = "disabled"
	StateIdle               = "idle"
	StatePolling            = "polling"
	StateWaitingQuietWindow = "waiting_quiet_window"
	StateBatchReady         = "batch_ready"
	StateRunningBatch       = "running_batch"
)

const defaultQuietWindow = 60 * time.Second

// maxSleep bounds every sleep in the loop so shutdown latency stays low.
const maxSleep = 60 * time.Second

// TriggerResult is the outcome of a run-trigger call.
type TriggerResult string

const (
	TriggerStarted  TriggerResult = "started"
	TriggerBusy     TriggerResult = "busy"
	TriggerDeferred TriggerResult = "deferred"
)

// RunTrigger starts an archive run for one playlist. Implementations
// guarantee only one run at a time; Trigger blocks until the run finishes
// (or reports busy/deferred), which is why batch calls are strictly
// sequential.
type RunTrigger interface {
	Trigger(ctx context.Context, playlistID string) (TriggerResult, error)
}

// RemoteLister fetches the current item IDs of a playlist from the upstream
// service.
type RemoteLister interface {
	ListItems(ctx context.Context, playlistID string) ([]string, error)
}

// batchState is owned exclusively by the supervisor loop and only mutated
// inside a loop iteration. It is not persisted: losing it on restart delays
// a pending batch but never loses a detection, which is re-derived from the
// seen ledger on the next poll.
type batchState struct {
	pending       map[string]struct{}
	lastDetection time.Time // zero when nothing is pending
	active        bool
}

// Supervisor polls playlists against their persisted watch state.
type Supervisor struct {
	st      *store.Store
	lister  RemoteLister
	trigger RunTrigger

	// Read once per iteration so config hot-reloads take effect without a
	// restart.
	policyFn    func() Policy
	playlistsFn func() []Playlist

	quietWindow time.Duration
	enabled     bool

	// Overridable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	batch         batchState
	wasInDowntime bool

	statusMu sync.Mutex
	status   models.WatcherStatus
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithQuietWindow overrides the batch debounce window.
func WithQuietWindow(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.quietWindow = d }
}

// WithEnabled turns the supervisor on or off. A disabled supervisor enters
// the terminal disabled state as soon as Run is called.
func WithEnabled(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.enabled = enabled }
}

// NewSupervisor creates a watcher supervisor. policyFn and playlistsFn are
// called at the top of every loop iteration.
func NewSupervisor(st *store.Store, lister RemoteLister, trigger RunTrigger, policyFn func() Policy, playlistsFn func() []Playlist, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		st:          st,
		lister:      lister,
		trigger:     trigger,
		policyFn:    policyFn,
		playlistsFn: playlistsFn,
		quietWindow: defaultQuietWindow,
		enabled:     true,
		now:         time.Now,
		sleep:       sleepCtx,
		batch:       batchState{pending: make(map[string]struct{})},
		status:      models.WatcherStatus{State: StateIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the supervisor loop until the context is canceled. One poll
// at a time; batched trigger runs are awaited synchronously.
func (s *Supervisor) Run(ctx context.Context) {
	if !s.enabled {
		s.setState(StateDisabled)
		log.Println("Watcher disabled")
		return
	}
	log.Println("Watcher started")
	s.setState(StateIdle)
	for ctx.Err() == nil {
		s.iterate(ctx)
	}
	log.Println("Watcher stopped")
}

// Status returns a snapshot for the status API.
func (s *Supervisor) Status() models.WatcherStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// iterate runs one supervisor cycle: downtime check, quiet-window batch
// trigger, candidate selection, then at most one playlist poll.
func (s *Supervisor) iterate(ctx context.Context) {
	policy := s.policyFn()
	playlists := s.playlistsFn()
	now := s.now()

	// Downtime: sleep without touching any playlist state.
	if policy.Downtime.Enabled {
		loc := ResolveTimezone(policy.Downtime.Timezone)
		active, _ := InDowntime(now.In(loc), policy.Downtime.Start, policy.Downtime.End)
		if active {
			if !s.wasInDowntime {
				log.Println("Watcher entering downtime window")
				s.wasInDowntime = true
			}
			s.sleep(ctx, maxSleep)
			return
		}
	}
	if s.wasInDowntime {
		s.wasInDowntime = false
		log.Println("Watcher exiting downtime window")
		s.resetPollSchedule(playlists, now)
	}

	// Quiet-window batch trigger.
	if len(s.batch.pending) > 0 && !s.batch.lastDetection.IsZero() && !s.batch.active {
		elapsed := now.Sub(s.batch.lastDetection)
		if elapsed >= s.quietWindow {
			s.runBatch(ctx)
			return
		}
		s.setWaiting(int((s.quietWindow - elapsed) / time.Second))
	}

	if len(playlists) == 0 {
		s.setState(StateIdle)
		s.sleep(ctx, maxSleep)
		return
	}

	// Pick the candidate with the earliest next_poll_at (unseen playlists
	// are due immediately).
	states, err := s.st.ListWatchStates()
	if err != nil {
		log.Printf("Watcher: failed to read watch state: %v", err)
		s.sleep(ctx, 10*time.Second)
		return
	}
	candidate, watch, nextPollAt := pickCandidate(playlists, states, now)

	s.updateStatus(func(st *models.WatcherStatus) {
		next := nextPollAt
		st.NextPollAt = &next
		st.PendingPlaylistsCount = len(s.batch.pending)
	})

	if now.Before(nextPollAt) {
		sleepFor := nextPollAt.Sub(now)
		// A pending batch must never be delayed by an unrelated playlist's
		// long poll interval.
		if len(s.batch.pending) > 0 && !s.batch.lastDetection.IsZero() && !s.batch.active {
			quietRemaining := s.quietWindow - now.Sub(s.batch.lastDetection)
			if quietRemaining < sleepFor {
				sleepFor = quietRemaining
			}
		}
		if sleepFor > maxSleep {
			sleepFor = maxSleep
		}
		if sleepFor > 0 {
			s.sleep(ctx, sleepFor)
		}
		return
	}

	s.setState(StatePolling)
	s.updateStatus(func(st *models.WatcherStatus) {
		pollAt := now
		st.LastPollAt = &pollAt
	})
	s.pollPlaylist(ctx, now, policy, candidate, watch)

	if len(s.batch.pending) > 0 && !s.batch.lastDetection.IsZero() && !s.batch.active {
		remaining := int((s.quietWindow - s.now().Sub(s.batch.lastDetection)) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
		s.setWaiting(remaining)
	} else {
		s.setState(StateIdle)
	}
}

// runBatch drains the pending set and triggers one run per playlist,
// strictly sequentially. The run trigger serializes archive runs; racing it
// with parallel calls would only get them rejected.
func (s *Supervisor) runBatch(ctx context.Context) {
	s.setState(StateBatchReady)
	log.Printf("Watcher: quiet window elapsed (%s), preparing batch run", s.quietWindow)

	s.batch.active = true
	ids := make([]string, 0, len(s.batch.pending))
	for id := range s.batch.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.batch.pending = make(map[string]struct{})

	s.setState(StateRunningBatch)
	s.updateStatus(func(st *models.WatcherStatus) {
		st.PendingPlaylistsCount = len(ids)
		st.BatchActive = true
	})
	log.Printf("Watcher: starting batch run playlists=%d", len(ids))

	start := s.now()
	for _, playlistID := range ids {
		if ctx.Err() != nil {
			break
		}
		result, err := s.trigger.Trigger(ctx, playlistID)
		if err != nil {
			log.Printf("Watcher: batch run failed playlist_id=%s: %v", playlistID, err)
			continue
		}
		switch result {
		case TriggerStarted:
			log.Printf("Watcher: batch run finished playlist_id=%s", playlistID)
		case TriggerDeferred:
			log.Printf("Watcher: batch deferred playlist_id=%s", playlistID)
		default:
			log.Printf("Watcher: batch skipped (run active) playlist_id=%s", playlistID)
		}
	}
	log.Printf("Watcher: batch complete playlists=%d duration=%s", len(ids), s.now().Sub(start).Round(time.Second))

	s.batch.active = false
	s.batch.lastDetection = time.Time{}
	s.updateStatus(func(st *models.WatcherStatus) {
		st.PendingPlaylistsCount = 0
		st.BatchActive = false
		st.QuietWindowRemaining = nil
	})
	s.setState(StateIdle)
}

// pollPlaylist fetches the playlist's current items and updates its watch
// state: backoff on no change or soft error, reset on detected change,
// baseline enrollment on a subscribe-mode first run.
func (s *Supervisor) pollPlaylist(ctx context.Context, now time.Time, policy Policy, pl Playlist, watch *models.WatchState) {
	if watch == nil {
		watch = &models.WatchState{PlaylistID: pl.ID}
	}
	current := policy.clampInterval(watch.CurrentIntervalMin)

	items, err := s.lister.ListItems(ctx, pl.ID)
	if err != nil {
		// Soft error: isolated to this playlist, backed off exactly like a
		// no-change poll so an unhealthy playlist cannot hog the schedule.
		log.Printf("Watcher poll error playlist_id=%s error=%v", pl.ID, err)
		errorAt := now
		watch.LastError = fmt.Sprintf("api error: %v", err)
		watch.LastErrorAt = &errorAt
		watch.SkipReason = "poll error"
		s.applyBackoff(now, policy, current, watch)
		return
	}
	watch.SkipReason = ""

	if pl.Mode == ModeSubscribe {
		hasSeen, err := s.st.HasSeenItems(pl.ID)
		if err != nil {
			log.Printf("Watcher: seen-ledger read failed playlist_id=%s: %v", pl.ID, err)
			return
		}
		if !hasSeen {
			// First pass in subscribe mode records the baseline without
			// downloading anything.
			for _, itemID := range items {
				if err := s.st.MarkItemSeen(pl.ID, itemID, false); err != nil {
					log.Printf("Watcher: failed to mark item seen playlist_id=%s item=%s: %v", pl.ID, itemID, err)
				}
			}
			log.Printf("Watcher subscribe first run playlist_id=%s seen=%d download=0", pl.ID, len(items))
			s.persistState(now, watch, policy.activeInterval(), 0)
			return
		}
	}

	newIDs, err := s.findNewItems(pl, items)
	if err != nil {
		log.Printf("Watcher: seen-ledger read failed playlist_id=%s: %v", pl.ID, err)
		return
	}

	if len(newIDs) > 0 {
		s.batch.pending[pl.ID] = struct{}{}
		// Every detection restarts the quiet window, so bursts of additions
		// coalesce into one run.
		s.batch.lastDetection = now
		log.Printf("Watcher: detected updates playlist_id=%s new=%d pending=%d", pl.ID, len(newIDs), len(s.batch.pending))

		changeAt := now
		watch.LastChangeAt = &changeAt
		s.persistState(now, watch, policy.activeInterval(), 0)
		return
	}

	log.Printf("Watcher polled playlist_id=%s items=%d new=0", pl.ID, len(items))
	s.applyBackoff(now, policy, current, watch)
}

// findNewItems returns the items not yet in the ledger. Subscribe mode
// compares against everything ever seen; full mode only skips items already
// downloaded.
func (s *Supervisor) findNewItems(pl Playlist, items []string) ([]string, error) {
	var newIDs []string
	for _, itemID := range items {
		var known bool
		var err error
		if pl.Mode == ModeSubscribe {
			known, err = s.st.IsItemSeen(pl.ID, itemID)
		} else {
			known, err = s.st.IsItemDownloaded(itemID)
		}
		if err != nil {
			return nil, err
		}
		if !known {
			newIDs = append(newIDs, itemID)
		}
	}
	return newIDs, nil
}

// applyBackoff grows the interval multiplicatively (capped at the policy
// max) and persists the watch state.
func (s *Supervisor) applyBackoff(now time.Time, policy Policy, current int, watch *models.WatchState) {
	next := policy.backoff(current)
	consecutive := watch.ConsecutiveNoChange + 1
	log.Printf("Watcher backoff applied playlist_id=%s interval_min=%d no_change=%d", watch.PlaylistID, next, consecutive)
	s.persistState(now, watch, next, consecutive)
}

func (s *Supervisor) persistState(now time.Time, watch *models.WatchState, intervalMin, consecutive int) {
	checkedAt := now
	nextPoll := now.Add(time.Duration(intervalMin) * time.Minute)
	watch.LastCheckedAt = &checkedAt
	watch.NextPollAt = &nextPoll
	watch.CurrentIntervalMin = intervalMin
	watch.ConsecutiveNoChange = consecutive
	if err := s.st.UpsertWatchState(watch); err != nil {
		log.Printf("Watcher: failed to persist watch state playlist_id=%s: %v", watch.PlaylistID, err)
	}
}

// resetPollSchedule makes every playlist due immediately. Called once when
// leaving a downtime window so polls resume without waiting out stale
// next_poll_at values.
func (s *Supervisor) resetPollSchedule(playlists []Playlist, now time.Time) {
	states, err := s.st.ListWatchStates()
	if err != nil {
		log.Printf("Watcher: failed to read watch state: %v", err)
		return
	}
	for _, pl := range playlists {
		watch := states[pl.ID]
		if watch == nil {
			continue
		}
		due := now
		watch.NextPollAt = &due
		if err := s.st.UpsertWatchState(watch); err != nil {
			log.Printf("Watcher: failed to reset poll schedule playlist_id=%s: %v", pl.ID, err)
		}
	}
}

func pickCandidate(playlists []Playlist, states map[string]*models.WatchState, now time.Time) (Playlist, *models.WatchState, time.Time) {
	best := playlists[0]
	bestWatch := states[best.ID]
	bestAt := now
	if bestWatch != nil && bestWatch.NextPollAt != nil {
		bestAt = *bestWatch.NextPollAt
	}
	for _, pl := range playlists[1:] {
		watch := states[pl.ID]
		at := now
		if watch != nil && watch.NextPollAt != nil {
			at = *watch.NextPollAt
		}
		if at.Before(bestAt) {
			best, bestWatch, bestAt = pl, watch, at
		}
	}
	return best, bestWatch, bestAt
}

func (s *Supervisor) setState(state string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.status.State != state {
		s.status.State = state
		log.Printf("Watcher state -> %s", state)
	}
}

func (s *Supervisor) setWaiting(remainingSec int) {
	s.setState(StateWaitingQuietWindow)
	s.updateStatus(func(st *models.WatcherStatus) {
		st.QuietWindowRemaining = &remainingSec
		st.PendingPlaylistsCount = len(s.batch.pending)
	})
}

func (s *Supervisor) updateStatus(fn func(*models.WatcherStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	fn(&s.status)
}

// sleepCtx sleeps for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
