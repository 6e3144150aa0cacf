// Scheduled background jobs, driven by gocron.

package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/sudoStacks/retreivr/internal/watcher"
)

// StartScheduler starts the background job scheduler. It schedules a full
// archive run over every tracked playlist at the configured interval; an
// interval of zero disables scheduled runs. The returned scheduler can be
// stopped on shutdown.
func StartScheduler(manager *Manager, playlistsFn func() []watcher.Playlist, runIntervalMinutes int) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	if runIntervalMinutes <= 0 {
		log.Println("Scheduled archive run interval is 0, scheduled runs are disabled.")
	} else {
		log.Printf("Scheduling archive runs every %d minutes.", runIntervalMinutes)
		_, err := s.Every(runIntervalMinutes).Minutes().Do(func() {
			runAllPlaylists(manager, playlistsFn())
		})
		if err != nil {
			log.Printf("Error scheduling archive runs: %v", err)
		}
	}

	s.StartAsync()
	return s
}

// runAllPlaylists triggers one run per playlist, sequentially. Busy answers
// are left for the next scheduled tick rather than retried immediately.
func runAllPlaylists(manager *Manager, playlists []watcher.Playlist) {
	log.Println("Scheduler is triggering a full archive run.")
	for _, pl := range playlists {
		result, err := manager.Trigger(context.Background(), pl.ID)
		if err != nil {
			log.Printf("Scheduled run failed playlist_id=%s: %v", pl.ID, err)
			continue
		}
		if result == watcher.TriggerBusy {
			log.Printf("Scheduled run skipped playlist_id=%s: a run is already active", pl.ID)
		}
	}
	log.Println("Scheduled archive run complete.")
}
