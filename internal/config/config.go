package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the altair engine.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Logging Logging       `yaml:"logging"`
	Engine  EngineConfig  `yaml:"engine"`
	Routing RoutingConfig `yaml:"routing"`
	Trading TradingConfig `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	StreamURL string `yaml:"stream_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig holds execution-engine parameters: submission retry budget,
// worker parallelism, per-order risk caps, and the symbols to subscribe on
// the price feed. Zero risk caps mean unlimited.
type EngineConfig struct {
	MaxSubmitAttempts int      `yaml:"max_submit_attempts"`
	SubmitTimeoutMs   int      `yaml:"submit_timeout_ms"`
	RetryBackoffMs    int      `yaml:"retry_backoff_ms"`
	ExpirySweepSec    int      `yaml:"expiry_sweep_sec"`
	Workers           int      `yaml:"workers"`
	MaxOrderQuantity  int64    `yaml:"max_order_quantity"`
	MaxOrderNotional  float64  `yaml:"max_order_notional"`
	WatchSymbols      []string `yaml:"watch_symbols"`
}

// RoutingConfig holds broker selection and order splitting parameters.
type RoutingConfig struct {
	MaxAlternatives   int          `yaml:"max_alternatives"`
	LotSize           int64        `yaml:"lot_size"`
	PriorityTiers     []float64    `yaml:"priority_tiers"`
	MonitorRefreshSec int          `yaml:"monitor_refresh_sec"`
	Brokers           []BrokerSeed `yaml:"brokers"`
}

// BrokerSeed seeds the performance store for deployments without an external
// monitoring feed (paper mode, replay).
type BrokerSeed struct {
	BrokerID            string  `yaml:"broker_id"`
	AvgPriceImprovement float64 `yaml:"avg_price_improvement"`
	AvgExecutionTimeMs  float64 `yaml:"avg_execution_time_ms"`
	FillRate            float64 `yaml:"fill_rate"`
	SlippageRate        float64 `yaml:"slippage_rate"`
	SuccessRate         float64 `yaml:"success_rate"`
	UptimePercent       float64 `yaml:"uptime_percent"`
	MaxConcurrentOrders int     `yaml:"max_concurrent_orders"`
	AvgFee              float64 `yaml:"avg_fee"`
	AvgImpactCost       float64 `yaml:"avg_impact_cost"`
}

// TradingConfig defines execution-mode parameters.
type TradingConfig struct {
	PaperMode       bool `yaml:"paper_mode"`
	RateLimitPerMin int  `yaml:"rate_limit_per_min"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults
// for unset engine and routing knobs.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("ALPACA_STREAM_URL"); v != "" {
		cfg.Alpaca.StreamURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills safe defaults for knobs the engine cannot run with at
// zero.
func applyDefaults(cfg *Config) {
	if cfg.Engine.MaxSubmitAttempts <= 0 {
		cfg.Engine.MaxSubmitAttempts = 3
	}
	if cfg.Engine.SubmitTimeoutMs <= 0 {
		cfg.Engine.SubmitTimeoutMs = 5000
	}
	if cfg.Engine.RetryBackoffMs <= 0 {
		cfg.Engine.RetryBackoffMs = 250
	}
	if cfg.Engine.ExpirySweepSec <= 0 {
		cfg.Engine.ExpirySweepSec = 5
	}
	if cfg.Routing.MaxAlternatives <= 0 {
		cfg.Routing.MaxAlternatives = 3
	}
	if cfg.Routing.LotSize <= 0 {
		cfg.Routing.LotSize = 1
	}
	if len(cfg.Routing.PriorityTiers) == 0 {
		cfg.Routing.PriorityTiers = []float64{0.50, 0.25, 0.15, 0.10}
	}
	if cfg.Routing.MonitorRefreshSec <= 0 {
		cfg.Routing.MonitorRefreshSec = 15
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
}
