// Package config loads the meridian YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"meridian/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the meridian trading system.
type Config struct {
	Mode      string          `yaml:"mode"` // "backtest" or "live"
	Storage   Storage         `yaml:"storage"`
	Broker    Broker          `yaml:"broker"`
	Logging   Logging         `yaml:"logging"`
	Trading   TradingConfig   `yaml:"trading"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Notify    NotifyConfig    `yaml:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`    // parquet bar files
	SQLitePath string `yaml:"sqlite_path"` // orders/positions/snapshots
}

// Broker holds credentials, endpoints, and retry policy for the brokerage API.
type Broker struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`

	// SubmitTimeout bounds a single order submission; on expiry the order
	// manager reconciles by idempotency key before any resubmission.
	SubmitTimeout time.Duration `yaml:"submit_timeout"`

	// PollsPerMinute caps market-data polling per symbol feed.
	PollsPerMinute int `yaml:"polls_per_minute"`

	// Bounded reconnect policy for connection errors in live mode.
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBackoff     time.Duration `yaml:"reconnect_backoff"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// StrategyConfig selects and parameterizes one strategy instance.
type StrategyConfig struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

// TradingConfig defines instruments, strategy selection, and risk limits
// shared by both execution modes.
type TradingConfig struct {
	Instruments []string         `yaml:"instruments"`
	Timeframe   domain.Timeframe `yaml:"timeframe"`
	Strategies  []StrategyConfig `yaml:"strategies"`

	RiskPerTrade    float64 `yaml:"risk_per_trade"`    // fraction of equity
	MaxPositions    int     `yaml:"max_positions"`     // max concurrent open positions
	MaxExposure     float64 `yaml:"max_exposure"`      // max aggregate volume in lots
	StopLossPips    float64 `yaml:"stop_loss_pips"`    // default when strategy supplies none
	RiskRewardRatio float64 `yaml:"risk_reward_ratio"` // take-profit distance multiplier

	SymbolInfo []domain.SymbolInfo `yaml:"symbol_info"`
}

// BacktestConfig holds parameters used only in backtest mode.
type BacktestConfig struct {
	StartDate      string  `yaml:"start_date"` // YYYY-MM-DD
	EndDate        string  `yaml:"end_date"`
	InitialBalance float64 `yaml:"initial_balance"`
	SlippagePips   float64 `yaml:"slippage_pips"`
}

// NotifyConfig configures the Telegram notification channel. An empty token
// disables notifications.
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// TelemetryConfig configures the websocket broadcast hub. An empty addr
// disables it.
type TelemetryConfig struct {
	Addr string `yaml:"addr"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, fills defaults, and
// validates the result.
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("BROKER_API_SECRET"); v != "" {
		cfg.Broker.APISecret = v
	}
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}
	if v := os.Getenv("BROKER_DATA_URL"); v != "" {
		cfg.Broker.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notify.TelegramChatID = v
	}

	if v := os.Getenv("RISK_PER_TRADE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trading.RiskPerTrade = f
		}
	}

	// Standard Alpaca env vars take highest priority; these are the canonical
	// names the SDK itself reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Broker.APISecret = v
	}
}

// applyDefaults fills in values that may be omitted from the file.
func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = "backtest"
	}
	if cfg.Trading.Timeframe == "" {
		cfg.Trading.Timeframe = domain.TimeframeD1
	}
	if cfg.Trading.RiskRewardRatio == 0 {
		cfg.Trading.RiskRewardRatio = 2.0
	}
	if cfg.Trading.StopLossPips == 0 {
		cfg.Trading.StopLossPips = 50
	}
	if cfg.Trading.MaxPositions == 0 {
		cfg.Trading.MaxPositions = 5
	}
	if cfg.Broker.SubmitTimeout == 0 {
		cfg.Broker.SubmitTimeout = 10 * time.Second
	}
	if cfg.Broker.PollsPerMinute == 0 {
		cfg.Broker.PollsPerMinute = 30
	}
	if cfg.Broker.MaxReconnectAttempts == 0 {
		cfg.Broker.MaxReconnectAttempts = 5
	}
	if cfg.Broker.ReconnectBackoff == 0 {
		cfg.Broker.ReconnectBackoff = 2 * time.Second
	}
	if cfg.Backtest.InitialBalance == 0 {
		cfg.Backtest.InitialBalance = 10000
	}
}

// Validate rejects configurations the engine must refuse to run with.
func (cfg *Config) Validate() error {
	if cfg.Mode != "backtest" && cfg.Mode != "live" {
		return &domain.ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", cfg.Mode)}
	}
	if len(cfg.Trading.Instruments) == 0 {
		return &domain.ConfigError{Field: "trading.instruments", Reason: "at least one instrument required"}
	}
	if cfg.Trading.RiskPerTrade <= 0 || cfg.Trading.RiskPerTrade >= 1 {
		return &domain.ConfigError{Field: "trading.risk_per_trade", Reason: "must be in (0, 1)"}
	}
	if cfg.Trading.MaxPositions < 1 {
		return &domain.ConfigError{Field: "trading.max_positions", Reason: "must be >= 1"}
	}
	if len(cfg.Trading.Strategies) == 0 {
		return &domain.ConfigError{Field: "trading.strategies", Reason: "at least one strategy required"}
	}
	if cfg.Mode == "backtest" {
		for field, v := range map[string]string{
			"backtest.start_date": cfg.Backtest.StartDate,
			"backtest.end_date":   cfg.Backtest.EndDate,
		} {
			if _, err := time.Parse("2006-01-02", v); err != nil {
				return &domain.ConfigError{Field: field, Reason: "must be YYYY-MM-DD"}
			}
		}
	}
	if cfg.Mode == "live" && cfg.Broker.APIKey == "" {
		return &domain.ConfigError{Field: "broker.api_key", Reason: "required in live mode"}
	}
	return nil
}

// BacktestRange returns the parsed backtest date range.
func (cfg *Config) BacktestRange() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", cfg.Backtest.StartDate)
	if err != nil {
		return
	}
	end, err = time.Parse("2006-01-02", cfg.Backtest.EndDate)
	return
}

// SymbolInfoMap indexes the configured symbol specifications by symbol.
func (cfg *Config) SymbolInfoMap() map[string]domain.SymbolInfo {
	m := make(map[string]domain.SymbolInfo, len(cfg.Trading.SymbolInfo))
	for _, info := range cfg.Trading.SymbolInfo {
		m[info.Symbol] = info
	}
	return m
}
