package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dropwire/internal/app"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	return &app.Config{
		Server: app.ServerConfig{
			Port:     8123,
			LogLevel: "info",
		},
		Storage: app.StorageConfig{Root: t.TempDir()},
		Limits: app.LimitConfig{
			MaxSessionStorageBytes: -1,
			MaxActiveSessions:      -1,
			MaxFileBytes:           -1,
		},
		Lifecycle: app.LifecycleConfig{
			UnusedGrace:   time.Minute,
			ActiveGrace:   20 * time.Minute,
			SweepInterval: 30 * time.Second,
		},
		Uploads: app.UploadConfig{
			TTL:           24 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
}

func TestBuildServerWiresEverything(t *testing.T) {
	server, cleaner, err := buildServer(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, server)
	require.NotNil(t, cleaner)
	require.Equal(t, ":8123", server.Addr)
	require.NotNil(t, server.Handler)
}

func TestBuildServerRejectsUnusableStorageRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Root = ""

	_, _, err := buildServer(cfg)
	require.Error(t, err)
}
