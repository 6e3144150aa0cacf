package core

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/sudoStacks/retreivr/internal/config"
	"github.com/sudoStacks/retreivr/internal/db"
	"github.com/sudoStacks/retreivr/internal/websocket"
)

// App holds the core components of the application that are shared between
// the server and the background loops.
type App struct {
	mu     sync.RWMutex
	config *config.Config
	db     *sql.DB
	wsHub  *websocket.Hub
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	hub := websocket.NewHub()
	go hub.Run()

	log.Println("Core application setup complete.")
	return &App{
		config: cfg,
		db:     database,
		wsHub:  hub,
	}, nil
}

// NewFromComponents assembles an App from preexisting components. Tests use
// this to supply their own config and database.
func NewFromComponents(cfg *config.Config, database *sql.DB, hub *websocket.Hub) *App {
	return &App{config: cfg, db: database, wsHub: hub}
}

// Config returns the active configuration snapshot. Background loops call
// this at the top of every iteration, so hot-reloaded settings take effect
// without a restart.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// SetConfig swaps in a new configuration snapshot (config hot-reload).
func (a *App) SetConfig(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = cfg
}

// DB returns the shared database handle.
func (a *App) DB() *sql.DB { return a.db }

// WsHub returns the websocket progress hub.
func (a *App) WsHub() *websocket.Hub { return a.wsHub }

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
