package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/dropwire/internal/app"
	"github.com/charlesng35/dropwire/internal/handlers"
	"github.com/charlesng35/dropwire/internal/middleware"
	"github.com/charlesng35/dropwire/internal/realtime"
	"github.com/charlesng35/dropwire/internal/services"
	"github.com/charlesng35/dropwire/internal/storage"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(cfg *app.Config, store *storage.Backend, manager *services.SessionManager, engine *services.UploadEngine) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if store == nil {
		return nil, fmt.Errorf("storage backend must be provided")
	}
	if manager == nil {
		return nil, fmt.Errorf("session manager must be provided")
	}
	if engine == nil {
		return nil, fmt.Errorf("upload engine must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health)
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	sessionHandler := handlers.NewSessionHandler(manager)
	uploadHandler := handlers.NewUploadHandler(engine, cfg.Server.BaseURL)
	downloadHandler := handlers.NewDownloadHandler(store)

	api := r.Group("/api")
	api.Use(middleware.AccessPolicy(cfg.Server.AllowedOrigins))
	{
		// Code minting is the cheapest way to make the server allocate
		// state, so it gets its own tighter rate limit.
		api.GET("/code", middleware.RateLimit(30, time.Minute), sessionHandler.CreateCode)

		api.POST("/upload", uploadHandler.Direct)
		api.POST("/upload/init", uploadHandler.Init)
		api.POST("/upload/chunk", uploadHandler.Chunk)
		api.POST("/upload/complete", uploadHandler.Complete)
		api.GET("/upload/progress/:uploadId", uploadHandler.Progress)
		api.DELETE("/upload/:uploadId", uploadHandler.Cancel)

		api.GET("/session/:code/storage", sessionHandler.Storage)
		api.GET("/server/stats", sessionHandler.ServerStats)
	}

	// Downloads are opened by plain browser navigation, which carries no
	// Origin header, so the API access policy does not apply here. Path
	// safety is enforced by the storage backend.
	r.GET("/downloads/:code/:filename", downloadHandler.Serve)

	hub := realtime.NewHub(manager, cfg.Server.AllowedOrigins)
	r.GET("/ws", func(c *gin.Context) {
		hub.Serve(c.Writer, c.Request)
	})

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
