package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/store-locator/internal/storedb"
)

// Config holds the full application configuration.
type Config struct {
	API         APIConfig         `yaml:"api" mapstructure:"api"`
	Map         MapConfig         `yaml:"map" mapstructure:"map"`
	Geolocation GeolocationConfig `yaml:"geolocation" mapstructure:"geolocation"`
	Sync        SyncConfig        `yaml:"sync" mapstructure:"sync"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// APIConfig configures the store search client.
type APIConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// MapConfig configures the map SDK and its mount.
type MapConfig struct {
	ClientID            string `yaml:"client_id" mapstructure:"client_id"`
	Mount               string `yaml:"mount" mapstructure:"mount"`
	ViewportWidth       int    `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height" mapstructure:"viewport_height"`
	ResourceTimeoutSecs int    `yaml:"resource_timeout_secs" mapstructure:"resource_timeout_secs"`
}

// GeolocationConfig configures the location requests.
type GeolocationConfig struct {
	Zoom             float64 `yaml:"zoom" mapstructure:"zoom"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaximumAgeSecs   int     `yaml:"maximum_age_secs" mapstructure:"maximum_age_secs"`
	WatchTimeoutSecs int     `yaml:"watch_timeout_secs" mapstructure:"watch_timeout_secs"`
}

// SyncConfig configures store fetching.
type SyncConfig struct {
	FetchTimeoutSecs int `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
}

// StoreConfig configures the database backing the reference endpoint.
type StoreConfig struct {
	DatabaseURL string             `yaml:"database_url" mapstructure:"database_url"`
	MaxResults  int                `yaml:"max_results" mapstructure:"max_results"`
	Pool        storedb.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LOCATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout_secs", 15)
	v.SetDefault("api.rate_limit", 10)
	v.SetDefault("api.max_attempts", 1)
	v.SetDefault("api.initial_backoff_ms", 200)
	v.SetDefault("api.max_backoff_ms", 5000)
	v.SetDefault("api.breaker_threshold", 5)
	v.SetDefault("api.breaker_reset_secs", 30)
	v.SetDefault("map.mount", "map")
	v.SetDefault("map.viewport_width", 1280)
	v.SetDefault("map.viewport_height", 800)
	v.SetDefault("map.resource_timeout_secs", 30)
	v.SetDefault("geolocation.zoom", 15)
	v.SetDefault("geolocation.timeout_secs", 5)
	v.SetDefault("geolocation.maximum_age_secs", 60)
	v.SetDefault("geolocation.watch_timeout_secs", 10)
	v.SetDefault("sync.fetch_timeout_secs", 15)
	v.SetDefault("store.database_url", "locator.db")
	v.SetDefault("store.max_results", 500)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: serve,
// migrate, seed, simulate.
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Geolocation.Zoom <= 0 {
		errs = append(errs, "geolocation.zoom must be > 0")
	}
	if c.Map.ViewportWidth <= 0 || c.Map.ViewportHeight <= 0 {
		errs = append(errs, "map.viewport_width and map.viewport_height must be > 0")
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, "api.rate_limit must be >= 0")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "migrate", "seed":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "simulate":
		if c.Map.Mount == "" {
			errs = append(errs, "map.mount is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
