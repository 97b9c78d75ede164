package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for stockfeed.
type Config struct {
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Feed    Feed    `yaml:"feed"`
	Client  Client  `yaml:"client"`
	Logging Logging `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	// PreferencesPath is the JSON file backing the preference watcher.
	PreferencesPath string `yaml:"preferences_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	// BaseURL is the trading API, used for the market calendar.
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Feed controls paging and fetch policy of the feed controllers.
type Feed struct {
	PageSize     int           `yaml:"page_size"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Retry        Retry         `yaml:"retry"`
}

// Retry configures the optional retry decorator. MaxAttempts of 1 disables
// it.
type Retry struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

// Client configures the terminal client and the SDK.
type Client struct {
	ServerURL       string        `yaml:"server_url"`
	User            string        `yaml:"user"`
	TrendingRefresh time.Duration `yaml:"trending_refresh"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
	// File, when set, receives log output instead of stderr.
	File string `yaml:"file"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

const (
	DefaultPort            = 8080
	DefaultPageSize        = 10
	DefaultFetchTimeout    = 10 * time.Second
	DefaultTrendingRefresh = time.Minute
	DefaultRateLimitPerMin = 200
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = cfg.Storage.DataDir + "/stockfeed.db"
	}
	if cfg.Storage.PreferencesPath == "" {
		cfg.Storage.PreferencesPath = cfg.Storage.DataDir + "/preferences.json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Alpaca.BaseURL == "" {
		cfg.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "sip"
	}
	if cfg.Alpaca.RateLimitPerMin == 0 {
		cfg.Alpaca.RateLimitPerMin = DefaultRateLimitPerMin
	}
	if cfg.Feed.PageSize <= 0 {
		cfg.Feed.PageSize = DefaultPageSize
	}
	if cfg.Feed.FetchTimeout <= 0 {
		cfg.Feed.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Feed.Retry.MaxAttempts <= 0 {
		cfg.Feed.Retry.MaxAttempts = 1
	}
	if cfg.Feed.Retry.InitialInterval <= 0 {
		cfg.Feed.Retry.InitialInterval = 200 * time.Millisecond
	}
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Client.TrendingRefresh <= 0 {
		cfg.Client.TrendingRefresh = DefaultTrendingRefresh
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// environment variable overrides and then fills in defaults. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("STOCKFEED_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("STOCKFEED_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("STOCKFEED_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STOCKFEED_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("STOCKFEED_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("STOCKFEED_USER"); v != "" {
		cfg.Client.User = v
	}
	if v := os.Getenv("STOCKFEED_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STOCKFEED_FETCH_TIMEOUT: %w", err)
		}
		cfg.Feed.FetchTimeout = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
