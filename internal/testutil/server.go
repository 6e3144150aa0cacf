// A shared test server setup utility, which simplifies all API tests.

package testutil

import (
	"context"
	"testing"

	"github.com/sudoStacks/retreivr/internal/api"
	"github.com/sudoStacks/retreivr/internal/config"
	"github.com/sudoStacks/retreivr/internal/core"
	"github.com/sudoStacks/retreivr/internal/downloader"
	"github.com/sudoStacks/retreivr/internal/jobs"
	"github.com/sudoStacks/retreivr/internal/models"
	"github.com/sudoStacks/retreivr/internal/store"
	"github.com/sudoStacks/retreivr/internal/watcher"
	"github.com/sudoStacks/retreivr/internal/websocket"
)

// SetupTestApp builds a core.App backed by a migrated temp database and a
// running websocket hub.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()
	database := SetupTestDB(t)

	cfg := &config.Config{}
	cfg.Queue.MaxAttempts = 3
	hub := websocket.NewHub()
	go hub.Run()
	return core.NewFromComponents(cfg, database, hub)
}

// SetupTestServer initializes a full api.Server for handler tests. The worker
// engine is constructed but not started, so jobs stay exactly where the test
// puts them.
func SetupTestServer(t *testing.T) (*api.Server, *store.Store) {
	t.Helper()
	app := SetupTestApp(t)
	st := store.New(app.DB())

	adapter := downloader.AdapterFunc(func(ctx context.Context, job *models.DownloadJob) (string, map[string]string, error) {
		return "/dev/null", nil, nil
	})
	engine := downloader.NewEngine(st, adapter, app.WsHub())

	manager := jobs.NewManager(func(ctx context.Context, playlistID string) error { return nil })

	lister := listerFunc(func(ctx context.Context, playlistID string) ([]string, error) { return nil, nil })
	supervisor := watcher.NewSupervisor(st, lister, manager,
		func() watcher.Policy {
			return watcher.Policy{MinIntervalMinutes: 5, MaxIntervalMinutes: 360, IdleBackoffFactor: 2, ActiveResetMinutes: 5}
		},
		func() []watcher.Playlist { return nil },
	)

	return api.NewServer(app, engine, supervisor, manager), st
}

type listerFunc func(ctx context.Context, playlistID string) ([]string, error)

func (f listerFunc) ListItems(ctx context.Context, playlistID string) ([]string, error) {
	return f(ctx, playlistID)
}
