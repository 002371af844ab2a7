package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/common"
	"github.com/ternarybob/progresswatch/internal/handlers"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/runner"
	"github.com/ternarybob/progresswatch/internal/services/cleanup"
	"github.com/ternarybob/progresswatch/internal/services/events"
	"github.com/ternarybob/progresswatch/internal/services/progress"
	"github.com/ternarybob/progresswatch/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService    interfaces.EventService
	ProgressService interfaces.ProgressService
	CleanupService  *cleanup.Service

	// Job execution
	Runner *runner.Runner

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	ProgressHandler *handlers.ProgressHandler
	StreamHandler   *handlers.ProgressStreamHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	app.initHandlers()

	// Start the runner AFTER handlers exist so ingest never sees a stopped pool
	app.Runner.Start()

	logger.Info().
		Bool("cleanup_enabled", cfg.Progress.CleanupEnabled).
		Int("runner_concurrency", cfg.Runner.Concurrency).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)

	a.ProgressService = progress.NewService(
		a.StorageManager.ProgressStorage(),
		a.EventService,
		a.Config.Progress.StoreStaleThreshold.Duration,
		a.Logger,
	)

	a.CleanupService = cleanup.NewService(
		a.StorageManager,
		a.ProgressService,
		a.EventService,
		a.Config.Progress.StoreStaleThreshold.Duration,
		a.Config.Progress.TerminalRetention.Duration,
		a.Logger,
	)
	if a.Config.Progress.CleanupEnabled {
		// Sweep leftovers of a previous run before accepting new work
		if _, err := a.CleanupService.RunOnce(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("Initial progress cleanup failed")
		}
		if err := a.CleanupService.Start(a.Config.Progress.CleanupSchedule); err != nil {
			return fmt.Errorf("failed to start cleanup service: %w", err)
		}
	}

	a.Runner = runner.NewRunner(
		a.ProgressService,
		runner.NewStagedProcessor(a.Config.Runner.StepDelay.Duration),
		&a.Config.Runner,
		a.Logger,
	)

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.ProgressHandler = handlers.NewProgressHandler(a.ProgressService, a.Runner, a.Logger)
	a.StreamHandler = handlers.NewProgressStreamHandler(a.ProgressService, a.EventService, &a.Config.WebSocket, a.Logger)
}

// Close stops background work in reverse order of startup
func (a *App) Close() error {
	// Stop the runner first: running batches are marked failed in storage
	if a.Runner != nil {
		a.Runner.Stop()
	}

	if a.CleanupService != nil {
		a.CleanupService.Stop()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Close storage
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
