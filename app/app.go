// Package clustr wires the client core together: local session cache, REST
// client, live channel, and the catalog and chat stores. Presentation layers
// construct an App and render from its stores.
package clustr

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clustrhq/clustr-go/api"
	"github.com/clustrhq/clustr-go/catalog"
	"github.com/clustrhq/clustr-go/chat"
	"github.com/clustrhq/clustr-go/store"
	"github.com/clustrhq/clustr-go/ws"
)

// Notifier and Confirmer are the UI ports the stores report through.
type Notifier = catalog.Notifier
type Confirmer = catalog.Confirmer

type App struct {
	Config   *Config
	Logger   *slog.Logger
	Sessions store.SessionStore
	API      *api.Client
	Live     *ws.Client
	Catalog  *catalog.Store
	Chat     *chat.Session

	db *sql.DB
}

// NewApp builds the full client core from config. The caller owns notifier
// and confirmer; everything else is constructed here and torn down by Close.
func NewApp(config *Config, notifier Notifier, confirmer Confirmer, logger *slog.Logger) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+config.SQLite.File)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	sessions := store.NewSQLiteSessionStore(db)

	client := api.NewClient(config.API.BaseURL, sessions,
		api.WithTimeout(config.API.Timeout),
		api.WithLogger(logger),
	)

	live := ws.NewClient(config.Socket.URL, sessions, ws.WithLogger(logger))

	app := &App{
		Config:   config,
		Logger:   logger,
		Sessions: sessions,
		API:      client,
		Live:     live,
		Catalog: catalog.New(client, sessions, notifier, confirmer,
			catalog.WithLogger(logger),
			catalog.WithDebounce(config.Debounce.Category, config.Debounce.Search),
		),
		Chat: chat.New(client, sessions, live, notifier, chat.WithLogger(logger)),
		db:   db,
	}
	return app, nil
}

// Close releases everything NewApp created.
func (a *App) Close() error {
	a.Chat.Cleanup()
	a.Catalog.Close()
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}
