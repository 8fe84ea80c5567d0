// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/conflict"
	"github.com/tildaslashalef/vaultsync/internal/database"
	"github.com/tildaslashalef/vaultsync/internal/engine"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/queue"
	"github.com/tildaslashalef/vaultsync/internal/realtime"
	"github.com/tildaslashalef/vaultsync/internal/remote"
	"github.com/tildaslashalef/vaultsync/internal/retry"
	"github.com/tildaslashalef/vaultsync/internal/state"
	"github.com/tildaslashalef/vaultsync/internal/sync"
	"github.com/tildaslashalef/vaultsync/internal/upload"
	"github.com/tildaslashalef/vaultsync/internal/vault"
	"github.com/tildaslashalef/vaultsync/internal/watcher"
)

// App represents the application instance with its dependencies
type App struct {
	Config    *config.Config
	Sync      *sync.Service
	Engine    *engine.Service
	Conflicts *conflict.Service
	Queue     *queue.Service
	Uploads   *upload.Service
	Watcher   *watcher.Service
	Realtime  *realtime.Manager
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"vault", cfg.Vault.Root,
		"log_level", cfg.Logging.Level,
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()

	// Remote store client and local vault access
	client := remote.NewClient(cfg.Remote, remote.StaticToken(cfg.Remote.Token), logger)
	files := vault.NewOSFS(cfg.Vault.Root)

	// Repositories
	records := state.NewSQLRepository(db, logger)
	conflictRepo := conflict.NewSQLRepository(db, logger)
	opsRepo := queue.NewSQLRepository(db, logger)
	sessionsRepo := upload.NewSQLRepository(db, logger)

	// Transfer services
	breaker := retry.NewBreaker(cfg.Retry.BreakerThreshold, cfg.Retry.BreakerCooldown)
	uploads := upload.NewService(cfg.Vault, cfg.Upload, client, sessionsRepo, breaker, logger)
	eng := engine.NewService(cfg.Vault, cfg.Sync, client, uploads, files, records, logger)

	conflicts := conflict.NewService(cfg.Vault, cfg.Sync, client, eng, files, records, conflictRepo, logger)
	offlineQueue := queue.NewService(cfg.Vault, cfg.Queue, opsRepo, client, eng, conflictRepo, files, logger)

	// Realtime connection and orchestration
	manager := realtime.NewManager(cfg.Connection, cfg.Retry, realtime.NewWebSocketTransport(), logger)
	syncService := sync.NewService(cfg.Vault, client, eng, conflicts, offlineQueue, files, records, manager, logger)
	manager.Register(syncService)
	manager.OnConnected(func() { syncService.HandleConnected(context.Background()) })

	watcherService := watcher.NewService(cfg.Vault, offlineQueue, watcher.DefaultDebounce, logger)

	return &App{
		Config:    cfg,
		Sync:      syncService,
		Engine:    eng,
		Conflicts: conflicts,
		Queue:     offlineQueue,
		Uploads:   uploads,
		Watcher:   watcherService,
		Realtime:  manager,
	}, nil
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if err := app.Realtime.Close(); err != nil {
		loggy.Error("Error closing realtime connection", "error", err)
	}

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
