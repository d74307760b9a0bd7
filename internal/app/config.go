package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the DropWire relay server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Limits     LimitConfig      `mapstructure:"limits"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
	Uploads    UploadConfig     `mapstructure:"uploads"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server and its access policy.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	BaseURL        string   `mapstructure:"base_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig locates the on-disk session tree root.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// LimitConfig carries admission limits. A value of -1 means unlimited.
type LimitConfig struct {
	MaxSessionStorageBytes int64 `mapstructure:"max_session_storage_bytes"`
	MaxActiveSessions      int   `mapstructure:"max_active_sessions"`
	MaxFileBytes           int64 `mapstructure:"max_file_bytes"`
}

// LifecycleConfig tunes session expiry behaviour.
type LifecycleConfig struct {
	UnusedGrace   time.Duration `mapstructure:"unused_grace"`
	ActiveGrace   time.Duration `mapstructure:"active_grace"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// UploadConfig tunes chunked upload expiry behaviour.
type UploadConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("DROPWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Storage.Root) == "" {
		return errors.New("config: storage.root is required")
	}
	if c.Lifecycle.UnusedGrace <= 0 || c.Lifecycle.ActiveGrace <= 0 {
		return errors.New("config: lifecycle grace periods must be positive")
	}
	if c.Uploads.TTL <= 0 {
		return errors.New("config: uploads.ttl must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("storage.root", "./data/sessions")

	v.SetDefault("limits.max_session_storage_bytes", int64(5)<<30)
	v.SetDefault("limits.max_active_sessions", -1)
	v.SetDefault("limits.max_file_bytes", int64(2)<<30)

	v.SetDefault("lifecycle.unused_grace", "60s")
	v.SetDefault("lifecycle.active_grace", "20m")
	v.SetDefault("lifecycle.sweep_interval", "30s")

	v.SetDefault("uploads.ttl", "24h")
	v.SetDefault("uploads.sweep_interval", "5m")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
