package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration shared by brokerlink-server and the
// brokerlink CLI.
type Config struct {
	Server    Server        `yaml:"server"`
	SnapTrade SnapTrade     `yaml:"snaptrade"`
	Logging   Logging       `yaml:"logging"`
	Client    Client        `yaml:"client"`
	Trading   TradingConfig `yaml:"trading"`
	Analysis  Analysis      `yaml:"analysis"`
}

// Server holds network listener configuration.
type Server struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	GRPCPort    int      `yaml:"grpc_port"` // 0 disables the gRPC health listener
	PathPrefix  string   `yaml:"path_prefix"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// SnapTrade holds credentials and endpoints for the aggregation backend.
type SnapTrade struct {
	ClientID        string        `yaml:"client_id"`
	ConsumerKey     string        `yaml:"consumer_key"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Client configures the brokerlink CLI.
type Client struct {
	ServerURL      string        `yaml:"server_url"`
	SessionDB      string        `yaml:"session_db"`
	SearchDebounce time.Duration `yaml:"search_debounce"`
	ExportDir      string        `yaml:"export_dir"`
}

// Analysis configures the PortfolioPilot proxy. An empty BaseURL disables
// the analysis endpoints.
type Analysis struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether PortfolioPilot is configured.
func (a Analysis) Enabled() bool { return a.BaseURL != "" }

// TradingConfig controls which backend executes orders.
type TradingConfig struct {
	PaperMode bool `yaml:"paper_mode"` // serve from the in-memory simulator
}

// ---------------------------------------------------------------------------
// Defaults & validation
// ---------------------------------------------------------------------------

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: Server{
			Host:        "0.0.0.0",
			Port:        4000,
			PathPrefix:  "/api/snaptrade",
			CORSOrigins: []string{"*"},
		},
		SnapTrade: SnapTrade{
			BaseURL: "https://api.snaptrade.com/api/v1",
			Timeout: 30 * time.Second,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		Client: Client{
			ServerURL:      "http://localhost:4000/api/snaptrade",
			SessionDB:      "brokerlink.db",
			SearchDebounce: 400 * time.Millisecond,
			ExportDir:      "exports",
		},
		Analysis: Analysis{
			Timeout: 30 * time.Second,
		},
	}
}

// Validate reports configuration that would make the server unusable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be positive")
	}
	if c.Analysis.Enabled() && c.Analysis.APIKey == "" {
		return errors.New("analysis.api_key is required when analysis.base_url is set")
	}
	if c.Trading.PaperMode {
		return nil
	}
	if c.SnapTrade.ClientID == "" || c.SnapTrade.ConsumerKey == "" {
		return errors.New("snaptrade.client_id and snaptrade.consumer_key are required unless trading.paper_mode is set")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of the
// defaults, and then applies environment variable overrides. A missing file
// is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SNAPTRADE_CLIENT_ID"); v != "" {
		cfg.SnapTrade.ClientID = v
	}
	if v := os.Getenv("SNAPTRADE_CONSUMER_KEY"); v != "" {
		cfg.SnapTrade.ConsumerKey = v
	}
	if v := os.Getenv("SNAPTRADE_BASE_URL"); v != "" {
		cfg.SnapTrade.BaseURL = v
	}

	if v := os.Getenv("PORTFOLIO_PILOT_APIURL"); v != "" {
		cfg.Analysis.BaseURL = v
	}
	if v := os.Getenv("PORTFOLIO_PILOT_APIKEY"); v != "" {
		cfg.Analysis.APIKey = v
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("BROKERLINK_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("BROKERLINK_SESSION_DB"); v != "" {
		cfg.Client.SessionDB = v
	}
	if v := os.Getenv("BROKERLINK_PAPER_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.PaperMode = b
		}
	}
}
