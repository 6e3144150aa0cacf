// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sudoStacks/retreivr/internal/core"
	"github.com/sudoStacks/retreivr/internal/downloader"
	"github.com/sudoStacks/retreivr/internal/jobs"
	"github.com/sudoStacks/retreivr/internal/store"
	"github.com/sudoStacks/retreivr/internal/watcher"
	"github.com/sudoStacks/retreivr/internal/websocket"
)

// Server holds the dependencies for our API.
type Server struct {
	app        *core.App
	store      *store.Store
	engine     *downloader.Engine
	supervisor *watcher.Supervisor
	manager    *jobs.Manager
}

// NewServer creates a new Server instance.
func NewServer(app *core.App, engine *downloader.Engine, supervisor *watcher.Supervisor, manager *jobs.Manager) *Server {
	return &Server{
		app:        app,
		store:      store.New(app.DB()),
		engine:     engine,
		supervisor: supervisor,
		manager:    manager,
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/version", s.handleGetVersion)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleEnqueueJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Post("/jobs/cancel-all", s.handleCancelAllJobs)

		r.Get("/history", s.handleListHistory)

		r.Get("/watcher/status", s.handleWatcherStatus)
		r.Get("/runs", s.handleListRuns)
	})

	// Websocket endpoint for job progress updates.
	r.Get("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(s.app.WsHub(), w, r)
	})

	return r
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"version": core.Version})
}
