// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/config"
	"github.com/JakeFAU/discourse-crawler/internal/ledger"
	"github.com/JakeFAU/discourse-crawler/internal/logging"
	"github.com/JakeFAU/discourse-crawler/internal/storage"
	"github.com/JakeFAU/discourse-crawler/internal/storage/local"
	"github.com/JakeFAU/discourse-crawler/internal/storage/memory"
	"github.com/JakeFAU/discourse-crawler/internal/storage/tarball"
)

// App holds all the shared, long-lived services for the application.
// It is initialized once per command and closed by the root command's post-run hook.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	loose   storage.Provider
	archive storage.Provider
	router  *storage.Router
	ledger  *ledger.Ledger

	// closeArchive is set when the archive reader is not the router's primary backend.
	closeArchive bool
}

// GetConfig returns the validated configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStorage returns the routed artifact store: domain "" goes to the loose backend and
// everything else to the configured backend.
func (a *App) GetStorage() storage.Provider {
	return a.router
}

// GetLoose returns the loose-file backend holding the store-level files.
func (a *App) GetLoose() storage.Provider {
	return a.loose
}

// GetArchive returns a tarball reader over the store directory, used by the summary to
// find site indexes that were written in archive mode.
func (a *App) GetArchive() storage.Provider {
	return a.archive
}

// GetLedger returns the failure ledger bound to the loose backend.
func (a *App) GetLedger() *ledger.Ledger {
	return a.ledger
}

// New builds the logger and the storage stack described by cfg. It fails fast when a
// backend cannot be initialized.
func New(_ context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return NewWithLogger(cfg, logger)
}

// NewWithLogger is New with an existing logger.
func NewWithLogger(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initializing application services",
		zap.String("store", cfg.Store.Dir),
		zap.String("backend", cfg.Store.Backend),
	)

	a := &App{cfg: cfg, logger: logger}
	switch cfg.Store.Backend {
	case storage.BackendMemory:
		logger.Info("Using in-memory storage. Artifacts will be discarded on exit.")
		mem := memory.NewBlobStore()
		a.loose, a.archive = mem, mem
		a.router = storage.NewRouter(mem, mem)
	case storage.BackendLoose, storage.BackendTarball:
		loose, err := local.New(local.Config{BaseDir: cfg.Store.Dir})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize loose storage: %w", err)
		}
		archive, err := tarball.New(tarball.Config{BaseDir: cfg.Store.Dir}, logger.Named("tarball"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		a.loose, a.archive = loose, archive
		if cfg.Store.Backend == storage.BackendTarball {
			a.router = storage.NewRouter(loose, archive)
		} else {
			a.router = storage.NewRouter(loose, loose)
			a.closeArchive = true
		}
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Store.Backend)
	}

	a.ledger = ledger.New(a.loose, logger.Named("ledger"))
	logger.Info("Application services initialized successfully.")
	return a, nil
}

// Close gracefully shuts down all services in the App container.
// It is called by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	if err := a.router.Close(); err != nil {
		a.logger.Warn("Error closing storage", zap.Error(err))
	}
	if a.closeArchive {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("Error closing archive reader", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
