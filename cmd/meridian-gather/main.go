package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meridian/internal/broker"
	"meridian/internal/config"
	"meridian/internal/store"
	"meridian/internal/util"
)

// meridian-gather backfills the Parquet bar store from the broker's
// market-data API so backtests can run offline.
func main() {
	startFlag := flag.String("start", "", "backfill start date (YYYY-MM-DD), defaults to the configured backtest start")
	endFlag := flag.String("end", "", "backfill end date (YYYY-MM-DD), defaults to yesterday")
	flag.Parse()

	cfgPath := "config/meridian.yaml"
	if p := os.Getenv("MERIDIAN_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	start, end, err := resolveRange(cfg, *startFlag, *endFlag)
	if err != nil {
		log.Fatalf("invalid date range: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source := broker.NewAlpacaBroker(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.BaseURL, cfg.Broker.DataURL)
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	logger.Info("backfill starting",
		"instruments", cfg.Trading.Instruments,
		"timeframe", cfg.Trading.Timeframe,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
	)

	for _, symbol := range cfg.Trading.Instruments {
		fetched, err := source.GetBars(ctx, symbol, cfg.Trading.Timeframe, start, end)
		if err != nil {
			log.Fatalf("fetching %s: %v", symbol, err)
		}
		if err := bars.WriteBars(ctx, fetched); err != nil {
			log.Fatalf("writing %s: %v", symbol, err)
		}
		logger.Info("symbol backfilled", "symbol", symbol, "bars", len(fetched))
	}
	logger.Info("backfill complete")
}

func resolveRange(cfg *config.Config, startFlag, endFlag string) (time.Time, time.Time, error) {
	startStr := startFlag
	if startStr == "" {
		startStr = cfg.Backtest.StartDate
	}
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if endFlag == "" {
		return start, time.Now().UTC().AddDate(0, 0, -1), nil
	}
	end, err := time.Parse("2006-01-02", endFlag)
	return start, end, err
}
