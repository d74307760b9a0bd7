package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charlesng35/dropwire/internal/api"
	"github.com/charlesng35/dropwire/internal/app"
	"github.com/charlesng35/dropwire/internal/app/maintenance"
	"github.com/charlesng35/dropwire/internal/services"
	"github.com/charlesng35/dropwire/internal/storage"
)

// buildServer wires the storage backend, the session manager, the upload
// engine and the router into a ready-to-run HTTP server plus its maintenance
// cleaner.
func buildServer(cfg *app.Config) (*http.Server, *maintenance.Cleaner, error) {
	store, err := storage.NewBackend(cfg.Storage.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise storage: %w", err)
	}

	manager, err := services.NewSessionManager(store, services.ManagerConfig{
		MaxActiveSessions:      cfg.Limits.MaxActiveSessions,
		MaxSessionStorageBytes: cfg.Limits.MaxSessionStorageBytes,
		UnusedGrace:            cfg.Lifecycle.UnusedGrace,
		ActiveGrace:            cfg.Lifecycle.ActiveGrace,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialise session manager: %w", err)
	}

	engine, err := services.NewUploadEngine(store, manager, services.EngineConfig{
		TTL:          cfg.Uploads.TTL,
		MaxFileBytes: cfg.Limits.MaxFileBytes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialise upload engine: %w", err)
	}

	router, err := api.NewRouter(cfg, store, manager, engine)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise router: %w", err)
	}

	cleaner := maintenance.NewCleaner(manager, engine,
		maintenance.WithSessionInterval(cfg.Lifecycle.SweepInterval),
		maintenance.WithUploadInterval(cfg.Uploads.SweepInterval),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server, cleaner, nil
}
