package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Create a temporary YAML config file.
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/altair/data"
  sqlite_path: "/tmp/altair/altair.db"
server:
  host: "0.0.0.0"
  port: 8080
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
  stream_url: "wss://stream.data.alpaca.markets"
  feed: "iex"
logging:
  level: "info"
  format: "json"
engine:
  max_submit_attempts: 4
  submit_timeout_ms: 3000
  retry_backoff_ms: 100
  expiry_sweep_sec: 2
  workers: 8
  max_order_quantity: 10000
  max_order_notional: 500000
  watch_symbols: ["AAPL", "MSFT"]
routing:
  max_alternatives: 2
  lot_size: 100
  priority_tiers: [0.6, 0.4]
  monitor_refresh_sec: 10
  brokers:
    - broker_id: "alpha"
      avg_execution_time_ms: 120
      success_rate: 0.98
      uptime_percent: 99.9
      max_concurrent_orders: 500
trading:
  paper_mode: true
  rate_limit_per_min: 200
`)

	tmpFile, err := os.CreateTemp("", "altair-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	// Clear any environment overrides that might interfere.
	os.Unsetenv("ALPACA_API_KEY")
	os.Unsetenv("ALPACA_API_SECRET")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	os.Unsetenv("DATA_DIR")
	os.Unsetenv("SQLITE_PATH")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/altair/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/altair/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/altair/altair.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/altair/altair.db")
	}

	// -- Server --
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Alpaca.Feed = %q, want %q", cfg.Alpaca.Feed, "iex")
	}

	// -- Engine --
	if cfg.Engine.MaxSubmitAttempts != 4 {
		t.Errorf("Engine.MaxSubmitAttempts = %d, want %d", cfg.Engine.MaxSubmitAttempts, 4)
	}
	if cfg.Engine.SubmitTimeoutMs != 3000 {
		t.Errorf("Engine.SubmitTimeoutMs = %d, want %d", cfg.Engine.SubmitTimeoutMs, 3000)
	}
	if cfg.Engine.MaxOrderQuantity != 10000 {
		t.Errorf("Engine.MaxOrderQuantity = %d, want %d", cfg.Engine.MaxOrderQuantity, 10000)
	}
	if cfg.Engine.MaxOrderNotional != 500000 {
		t.Errorf("Engine.MaxOrderNotional = %v, want %v", cfg.Engine.MaxOrderNotional, 500000.0)
	}
	if len(cfg.Engine.WatchSymbols) != 2 || cfg.Engine.WatchSymbols[0] != "AAPL" {
		t.Errorf("Engine.WatchSymbols = %v, want [AAPL MSFT]", cfg.Engine.WatchSymbols)
	}

	// -- Routing --
	if cfg.Routing.LotSize != 100 {
		t.Errorf("Routing.LotSize = %d, want %d", cfg.Routing.LotSize, 100)
	}
	if len(cfg.Routing.PriorityTiers) != 2 || cfg.Routing.PriorityTiers[0] != 0.6 {
		t.Errorf("Routing.PriorityTiers = %v, want [0.6 0.4]", cfg.Routing.PriorityTiers)
	}
	if len(cfg.Routing.Brokers) != 1 {
		t.Fatalf("Routing.Brokers has %d entries, want 1", len(cfg.Routing.Brokers))
	}
	if cfg.Routing.Brokers[0].BrokerID != "alpha" {
		t.Errorf("Brokers[0].BrokerID = %q, want %q", cfg.Routing.Brokers[0].BrokerID, "alpha")
	}
	if cfg.Routing.Brokers[0].SuccessRate != 0.98 {
		t.Errorf("Brokers[0].SuccessRate = %v, want 0.98", cfg.Routing.Brokers[0].SuccessRate)
	}

	// -- Trading --
	if !cfg.Trading.PaperMode {
		t.Error("Trading.PaperMode = false, want true")
	}
	if cfg.Trading.RateLimitPerMin != 200 {
		t.Errorf("Trading.RateLimitPerMin = %d, want %d", cfg.Trading.RateLimitPerMin, 200)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	tmpFile, err := os.CreateTemp("", "altair-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	// Set environment overrides.
	os.Setenv("ALPACA_API_KEY", "env-key")
	os.Setenv("DATA_DIR", "/env/data")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	defer os.Unsetenv("ALPACA_API_KEY")
	defer os.Unsetenv("DATA_DIR")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	yamlContent := []byte(`
server:
  host: "127.0.0.1"
  port: 9000
`)

	tmpFile, err := os.CreateTemp("", "altair-config-min-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Engine.MaxSubmitAttempts != 3 {
		t.Errorf("default MaxSubmitAttempts = %d, want 3", cfg.Engine.MaxSubmitAttempts)
	}
	if cfg.Engine.SubmitTimeoutMs != 5000 {
		t.Errorf("default SubmitTimeoutMs = %d, want 5000", cfg.Engine.SubmitTimeoutMs)
	}
	if cfg.Routing.LotSize != 1 {
		t.Errorf("default LotSize = %d, want 1", cfg.Routing.LotSize)
	}
	want := []float64{0.50, 0.25, 0.15, 0.10}
	if len(cfg.Routing.PriorityTiers) != len(want) {
		t.Fatalf("default PriorityTiers = %v, want %v", cfg.Routing.PriorityTiers, want)
	}
	for i := range want {
		if cfg.Routing.PriorityTiers[i] != want[i] {
			t.Errorf("PriorityTiers[%d] = %v, want %v", i, cfg.Routing.PriorityTiers[i], want[i])
		}
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("default Alpaca.Feed = %q, want %q", cfg.Alpaca.Feed, "iex")
	}
}
