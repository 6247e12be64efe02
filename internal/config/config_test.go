package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"meridian/internal/domain"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "meridian-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}
	return tmpFile.Name()
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"DATA_DIR", "SQLITE_PATH", "BROKER_API_KEY", "BROKER_API_SECRET",
		"BROKER_BASE_URL", "BROKER_DATA_URL", "LOG_LEVEL", "TELEGRAM_TOKEN",
		"TELEGRAM_CHAT_ID", "RISK_PER_TRADE", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		os.Unsetenv(v)
	}
}

func TestLoadBacktestConfig(t *testing.T) {
	clearEnvOverrides(t)
	path := writeConfigFile(t, `
mode: backtest
storage:
  data_dir: "/tmp/meridian/data"
  sqlite_path: "/tmp/meridian/meridian.db"
logging:
  level: "info"
trading:
  instruments: ["EURUSD", "GBPUSD"]
  timeframe: "1h"
  risk_per_trade: 0.02
  max_positions: 3
  stop_loss_pips: 50
  strategies:
    - name: trend-following
      params:
        fast_period: 10
        slow_period: 30
backtest:
  start_date: "2024-01-01"
  end_date: "2024-06-30"
  initial_balance: 10000
  slippage_pips: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Mode != "backtest" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "backtest")
	}
	if cfg.Storage.DataDir != "/tmp/meridian/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/meridian/data")
	}
	if len(cfg.Trading.Instruments) != 2 {
		t.Fatalf("len(Instruments) = %d, want 2", len(cfg.Trading.Instruments))
	}
	if cfg.Trading.Timeframe != domain.TimeframeH1 {
		t.Errorf("Timeframe = %q, want %q", cfg.Trading.Timeframe, domain.TimeframeH1)
	}
	if cfg.Trading.RiskPerTrade != 0.02 {
		t.Errorf("RiskPerTrade = %f, want 0.02", cfg.Trading.RiskPerTrade)
	}
	if len(cfg.Trading.Strategies) != 1 || cfg.Trading.Strategies[0].Name != "trend-following" {
		t.Errorf("Strategies = %+v, want one trend-following entry", cfg.Trading.Strategies)
	}
	if got := cfg.Trading.Strategies[0].Params["fast_period"]; got != 10 {
		t.Errorf("fast_period = %v, want 10", got)
	}

	start, end, err := cfg.BacktestRange()
	if err != nil {
		t.Fatalf("BacktestRange() error: %v", err)
	}
	if start.Format("2006-01-02") != "2024-01-01" || end.Format("2006-01-02") != "2024-06-30" {
		t.Errorf("BacktestRange = %v..%v, want 2024-01-01..2024-06-30", start, end)
	}

	// Defaults applied for omitted fields.
	if cfg.Broker.SubmitTimeout != 10*time.Second {
		t.Errorf("SubmitTimeout default = %v, want 10s", cfg.Broker.SubmitTimeout)
	}
	if cfg.Trading.RiskRewardRatio != 2.0 {
		t.Errorf("RiskRewardRatio default = %v, want 2.0", cfg.Trading.RiskRewardRatio)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnvOverrides(t)
	path := writeConfigFile(t, `
mode: backtest
broker:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
trading:
  instruments: ["EURUSD"]
  risk_per_trade: 0.01
  strategies:
    - name: mean-reversion
backtest:
  start_date: "2024-01-01"
  end_date: "2024-02-01"
`)

	os.Setenv("BROKER_API_KEY", "env-key")
	os.Setenv("DATA_DIR", "/env/data")
	defer os.Unsetenv("BROKER_API_KEY")
	defer os.Unsetenv("DATA_DIR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Broker.APIKey != "env-key" {
		t.Errorf("Broker.APIKey = %q, want %q (env override)", cfg.Broker.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Broker.APISecret != "yaml-secret" {
		t.Errorf("Broker.APISecret = %q, want %q (from YAML)", cfg.Broker.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	clearEnvOverrides(t)
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "no instruments",
			yaml: `
mode: backtest
trading:
  risk_per_trade: 0.02
  strategies: [{name: breakout}]
backtest: {start_date: "2024-01-01", end_date: "2024-02-01"}
`,
		},
		{
			name: "risk out of range",
			yaml: `
mode: backtest
trading:
  instruments: ["EURUSD"]
  risk_per_trade: 1.5
  strategies: [{name: breakout}]
backtest: {start_date: "2024-01-01", end_date: "2024-02-01"}
`,
		},
		{
			name: "bad mode",
			yaml: `
mode: paper
trading:
  instruments: ["EURUSD"]
  risk_per_trade: 0.02
  strategies: [{name: breakout}]
`,
		},
		{
			name: "bad backtest dates",
			yaml: `
mode: backtest
trading:
  instruments: ["EURUSD"]
  risk_per_trade: 0.02
  strategies: [{name: breakout}]
backtest: {start_date: "Jan 1", end_date: "2024-02-01"}
`,
		},
		{
			name: "live without credentials",
			yaml: `
mode: live
trading:
  instruments: ["EURUSD"]
  risk_per_trade: 0.02
  strategies: [{name: breakout}]
`,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeConfigFile(t, c.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() should have failed")
			}
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("error should be *domain.ConfigError, got %T: %v", err, err)
			}
		})
	}
}
