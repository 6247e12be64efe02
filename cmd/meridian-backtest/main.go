package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"meridian/internal/broker"
	"meridian/internal/config"
	"meridian/internal/engine"
	"meridian/internal/feed"
	"meridian/internal/ledger"
	"meridian/internal/order"
	"meridian/internal/risk"
	"meridian/internal/store"
	"meridian/internal/strategy"
	"meridian/internal/strategy/builtins"
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
	if cfg.Mode != "backtest" {
		log.Fatalf("meridian-backtest requires mode: backtest (got %q)", cfg.Mode)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	start, end, err := cfg.BacktestRange()
	if err != nil {
		log.Fatalf("invalid backtest range: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open order store: %v", err)
	}
	defer sqlite.Close()

	symbols := cfg.SymbolInfoMap()
	led := ledger.New(cfg.Backtest.InitialBalance, symbols, logger)
	defer led.Close()

	registry := strategy.NewRegistry()
	for _, sc := range cfg.Trading.Strategies {
		s, err := builtins.New(sc.Name, sc.Params)
		if err != nil {
			log.Fatalf("strategy %q: %v", sc.Name, err)
		}
		registry.Register(s)
	}

	sizer := risk.NewSizer(cfg.Trading, symbols, logger)
	core := engine.NewCore(registry, sizer, led, logger)
	sim := broker.NewSimulator(symbols, cfg.Backtest.SlippagePips)
	manager := order.NewManager(sim, sqlite, cfg.Broker.SubmitTimeout)

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	history := feed.NewHistory(bars, cfg.Trading.Instruments, cfg.Trading.Timeframe)

	bt := engine.NewBacktest(core, sim, manager, led, history, sqlite, logger)

	logger.Info("meridian-backtest starting",
		"instruments", cfg.Trading.Instruments,
		"start", cfg.Backtest.StartDate,
		"end", cfg.Backtest.EndDate,
		"initial_balance", cfg.Backtest.InitialBalance,
	)

	result, err := bt.Run(ctx, start, end)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	fmt.Printf("bars processed:  %d\n", result.Bars)
	fmt.Printf("fills:           %d\n", result.Fills)
	fmt.Printf("rejections:      %d\n", result.Rejections)
	fmt.Printf("final balance:   %.2f\n", result.FinalBalance)
	fmt.Printf("final equity:    %.2f\n", result.FinalEquity)
	fmt.Printf("max drawdown:    %.2f%%\n", result.MaxDrawdown*100)
}
