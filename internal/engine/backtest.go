package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meridian/internal/broker"
	"meridian/internal/domain"
	"meridian/internal/feed"
	"meridian/internal/ledger"
	"meridian/internal/order"
	"meridian/internal/store"
)

// Backtest replays stored history through the Core on a single goroutine.
// Orders fill in the simulator at the next bar's open, so a run over the
// same data and configuration is bit-for-bit reproducible.
type Backtest struct {
	core      *Core
	sim       *broker.Simulator
	manager   *order.Manager
	ledger    *ledger.Ledger
	history   *feed.History
	snapshots store.SnapshotStore
	log       *slog.Logger
}

// BacktestResult summarizes one run.
type BacktestResult struct {
	Bars         int
	Fills        int
	Rejections   int
	FinalBalance float64
	FinalEquity  float64
	MaxDrawdown  float64 // fraction of peak equity
}

// NewBacktest wires a backtest driver.
func NewBacktest(
	core *Core,
	sim *broker.Simulator,
	manager *order.Manager,
	led *ledger.Ledger,
	history *feed.History,
	snapshots store.SnapshotStore,
	log *slog.Logger,
) *Backtest {
	if log == nil {
		log = slog.Default()
	}
	return &Backtest{
		core:      core,
		sim:       sim,
		manager:   manager,
		ledger:    led,
		history:   history,
		snapshots: snapshots,
		log:       log.With("component", "backtest"),
	}
}

// Run replays [start, end]. Each bar settles pending fills first, then feeds
// the Core; resulting intents rest in the simulator until the next bar. One
// account snapshot is appended per processed bar.
func (b *Backtest) Run(ctx context.Context, start, end time.Time) (*BacktestResult, error) {
	bars, err := b.history.Load(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	b.log.Info("replay starting", "bars", len(bars), "start", start, "end", end)

	result := &BacktestResult{}
	peak := 0.0

	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Settle orders resting from previous bars.
		for _, fill := range b.sim.Advance(bar) {
			b.settle(ctx, fill)
			result.Fills++
		}

		for _, action := range b.core.ProcessBar(bar) {
			if action.Rejection != nil {
				result.Rejections++
				continue
			}
			if _, err := b.manager.Submit(ctx, action.Intent); err != nil {
				// The simulator only rejects; rejections are terminal and
				// already persisted.
				b.log.Warn("submission failed", "intent", action.Intent.IntentID, "err", err)
			}
		}

		snap := b.ledger.Snapshot()
		if err := b.snapshots.AppendSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("appending snapshot: %w", err)
		}

		if snap.Equity > peak {
			peak = snap.Equity
		}
		if peak > 0 {
			if dd := (peak - snap.Equity) / peak; dd > result.MaxDrawdown {
				result.MaxDrawdown = dd
			}
		}
		result.Bars++
	}

	final := b.ledger.Snapshot()
	result.FinalBalance = final.Balance
	result.FinalEquity = final.Equity

	b.log.Info("replay finished",
		"bars", result.Bars,
		"fills", result.Fills,
		"rejections", result.Rejections,
		"final_equity", result.FinalEquity,
		"max_drawdown", result.MaxDrawdown,
	)
	return result, nil
}

// settle applies one simulator fill to the ledger and, for manager-tracked
// orders, to the durable order record. Protective exits (stop or target hit
// inside the simulator) have no order record; they only move the ledger.
func (b *Backtest) settle(ctx context.Context, fill domain.Fill) {
	before, _ := b.ledger.Position(fill.Symbol)
	pos := b.ledger.Apply(fill)

	if remote, err := b.sim.GetOrderByClientID(ctx, fill.IntentID); err == nil && remote != nil {
		if _, err := b.manager.ApplyUpdate(ctx, remote); err != nil {
			b.log.Warn("recording fill", "intent", fill.IntentID, "err", err)
		}
	}

	b.log.Debug("fill settled",
		"symbol", fill.Symbol,
		"side", fill.Side,
		"volume", fill.Volume,
		"price", fill.Price,
		"net_before", before.NetVolume,
		"net_after", pos.NetVolume,
		"realized", pos.RealizedPnL,
	)
}
