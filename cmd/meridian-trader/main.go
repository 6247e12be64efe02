package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"meridian/internal/broker"
	"meridian/internal/config"
	"meridian/internal/engine"
	"meridian/internal/feed"
	"meridian/internal/httpapi"
	"meridian/internal/ledger"
	"meridian/internal/notify"
	"meridian/internal/order"
	"meridian/internal/risk"
	"meridian/internal/store"
	"meridian/internal/strategy"
	"meridian/internal/strategy/builtins"
	"meridian/internal/telemetry"
	"meridian/internal/util"
)

func main() {
	cfgPath := "config/meridian.yaml"
	if p := os.Getenv("MERIDIAN_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Mode != "live" {
		log.Fatalf("meridian-trader requires mode: live (got %q); use meridian-backtest for replays", cfg.Mode)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open order store: %v", err)
	}
	defer sqlite.Close()

	symbols := cfg.SymbolInfoMap()
	alpaca := broker.NewAlpacaBroker(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.BaseURL, cfg.Broker.DataURL)
	manager := order.NewManager(alpaca, sqlite, cfg.Broker.SubmitTimeout)

	registry, err := buildRegistry(cfg.Trading.Strategies)
	if err != nil {
		log.Fatalf("failed to build strategies: %v", err)
	}

	// Live sizing starts from the broker's equity; the ledger tracks it from
	// there and is re-synced against broker positions on boot.
	account, err := alpaca.GetAccount(ctx)
	if err != nil {
		log.Fatalf("failed to fetch account: %v", err)
	}
	led := ledger.New(account.Balance, symbols, logger)
	defer led.Close()

	sizer := risk.NewSizer(cfg.Trading, symbols, logger)
	core := engine.NewCore(registry, sizer, led, logger)
	poller := feed.NewLivePoller(alpaca, cfg.Trading.Instruments, cfg.Trading.Timeframe, cfg.Broker.PollsPerMinute)

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.TelegramToken != "" {
		notifier = notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
	}

	var hub *telemetry.Hub
	if cfg.Telemetry.Addr != "" {
		hub = telemetry.NewHub()
		go hub.Run(ctx)
		status := httpapi.NewServer(sqlite, sqlite, sqlite, logger)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/ws", hub)
			mux.Handle("/api/", status.Handler())
			logger.Info("telemetry listening", "addr", cfg.Telemetry.Addr)
			if err := http.ListenAndServe(cfg.Telemetry.Addr, mux); err != nil {
				logger.Error("telemetry server stopped", "err", err)
			}
		}()
	}

	live := engine.NewLive(core, alpaca, alpaca, manager, led, poller,
		sqlite, sqlite, sqlite, notifier, hub, cfg.Broker, cfg.Trading, logger)

	logger.Info("meridian-trader starting",
		"instruments", cfg.Trading.Instruments,
		"timeframe", cfg.Trading.Timeframe,
		"broker", alpaca.Name(),
	)
	if err := live.Run(ctx); err != nil {
		log.Fatalf("trader stopped: %v", err)
	}
}

func buildRegistry(configs []config.StrategyConfig) (*strategy.Registry, error) {
	registry := strategy.NewRegistry()
	for _, sc := range configs {
		s, err := builtins.New(sc.Name, sc.Params)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", sc.Name, err)
		}
		registry.Register(s)
	}
	return registry, nil
}
