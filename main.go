package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sudoStacks/retreivr/internal/api"
	"github.com/sudoStacks/retreivr/internal/config"
	"github.com/sudoStacks/retreivr/internal/core"
	"github.com/sudoStacks/retreivr/internal/downloader"
	"github.com/sudoStacks/retreivr/internal/downloader/ytdlp"
	"github.com/sudoStacks/retreivr/internal/jobs"
	"github.com/sudoStacks/retreivr/internal/store"
	"github.com/sudoStacks/retreivr/internal/watcher"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()

	st := store.New(app.DB())

	// yt-dlp does the actual fetching and playlist listing. Playlist URLs are
	// resolved through the live config so edits apply without a restart.
	client := ytdlp.New(app.Config().Library.Path, func(playlistID string) (string, bool) {
		for _, pl := range app.Config().Playlists {
			if pl.ID == playlistID {
				return pl.URL, true
			}
		}
		return "", false
	})

	cfg := app.Config()
	engine := downloader.NewEngine(st, client, app.WsHub(),
		downloader.WithPollInterval(time.Duration(cfg.Queue.PollIntervalSeconds)*time.Second),
		downloader.WithRetryDelay(time.Duration(cfg.Queue.RetryDelaySeconds)*time.Second),
	)
	engine.Start()

	lookupPlaylist := func(playlistID string) (jobs.PlaylistInfo, bool) {
		for _, pl := range app.Config().Playlists {
			if pl.ID == playlistID {
				return jobs.PlaylistInfo{
					ID:        pl.ID,
					Name:      pl.Name,
					Source:    pl.Source,
					Mode:      pl.Mode,
					MediaType: pl.MediaType,
				}, true
			}
		}
		return jobs.PlaylistInfo{}, false
	}
	manager := jobs.NewManager(jobs.NewArchiveRun(st, client, lookupPlaylist, func() int {
		return app.Config().Queue.MaxAttempts
	}))

	watcherPlaylists := func() []watcher.Playlist {
		conf := app.Config()
		playlists := make([]watcher.Playlist, 0, len(conf.Playlists))
		for _, pl := range conf.Playlists {
			playlists = append(playlists, watcher.Playlist{ID: pl.ID, Name: pl.Name, Mode: pl.Mode})
		}
		return playlists
	}
	supervisor := watcher.NewSupervisor(st, client, manager,
		func() watcher.Policy {
			p := app.Config().WatchPolicy
			return watcher.Policy{
				MinIntervalMinutes: p.MinIntervalMinutes,
				MaxIntervalMinutes: p.MaxIntervalMinutes,
				IdleBackoffFactor:  p.IdleBackoffFactor,
				ActiveResetMinutes: p.ActiveResetMinutes,
				Downtime: watcher.Downtime{
					Enabled:  p.Downtime.Enabled,
					Start:    p.Downtime.Start,
					End:      p.Downtime.End,
					Timezone: p.Downtime.Timezone,
				},
			}
		},
		watcherPlaylists,
		watcher.WithEnabled(cfg.Watcher.Enabled),
		watcher.WithQuietWindow(time.Duration(cfg.Watcher.QuietWindowSeconds)*time.Second),
	)

	watcherCtx, stopWatcher := context.WithCancel(context.Background())
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		supervisor.Run(watcherCtx)
	}()

	// Scheduled full archive runs, independent of the watcher.
	scheduler := jobs.StartScheduler(manager, watcherPlaylists, cfg.Schedule.RunIntervalMinutes)

	// Hot-reload the config file; the background loops read snapshots through
	// app.Config() every iteration.
	config.Watch(app.SetConfig)

	server := api.NewServer(app, engine, supervisor, manager)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Router(),
	}
	go func() {
		log.Printf("Starting server on http://localhost:%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	stopWatcher()
	<-watcherDone
	if scheduler != nil {
		scheduler.Stop()
	}
	engine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Shutdown complete.")
}
