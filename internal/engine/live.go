package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"meridian/internal/broker"
	"meridian/internal/config"
	"meridian/internal/domain"
	"meridian/internal/feed"
	"meridian/internal/ledger"
	"meridian/internal/notify"
	"meridian/internal/order"
	"meridian/internal/store"
	"meridian/internal/telemetry"
	"meridian/internal/util"
)

// Live runs the Core against a real broker. Per-symbol feed workers funnel
// bars into one intake channel; all decisions and submissions happen on the
// single Run goroutine, so live ordering semantics match the backtest.
type Live struct {
	core      *Core
	broker    broker.Broker
	bars      broker.BarSource
	manager   *order.Manager
	ledger    *ledger.Ledger
	poller    *feed.LivePoller
	orders    store.OrderStore
	positions store.PositionStore
	snapshots store.SnapshotStore
	notifier  notify.Notifier
	hub       *telemetry.Hub
	cfg       config.Broker
	trading   config.TradingConfig
	log       *slog.Logger

	// halted blocks new submissions after a connection failure until a
	// reconnect succeeds. Open positions and their protective stops are
	// broker-side and unaffected. exhausted marks that the reconnect budget
	// ran out, so the critical alert fires once instead of every bar.
	halted       bool
	exhausted    bool
	prevRealized map[string]float64
}

// NewLive wires a live driver. bars feeds the strategy warmup backfill and
// hub may be nil when telemetry is disabled.
func NewLive(
	core *Core,
	b broker.Broker,
	bars broker.BarSource,
	manager *order.Manager,
	led *ledger.Ledger,
	poller *feed.LivePoller,
	orders store.OrderStore,
	positions store.PositionStore,
	snapshots store.SnapshotStore,
	notifier notify.Notifier,
	hub *telemetry.Hub,
	cfg config.Broker,
	trading config.TradingConfig,
	log *slog.Logger,
) *Live {
	if log == nil {
		log = slog.Default()
	}
	return &Live{
		core:         core,
		broker:       b,
		bars:         bars,
		manager:      manager,
		ledger:       led,
		poller:       poller,
		orders:       orders,
		positions:    positions,
		snapshots:    snapshots,
		notifier:     notifier,
		hub:          hub,
		cfg:          cfg,
		trading:      trading,
		log:          log.With("component", "live"),
		prevRealized: make(map[string]float64),
	}
}

// Run connects, recovers persisted order state, warms strategies up on
// recent history, and trades until ctx is cancelled. Losing the broker past
// the reconnect budget halts new submissions but keeps tracking open
// positions.
func (l *Live) Run(ctx context.Context) error {
	if err := l.connect(ctx); err != nil {
		return fmt.Errorf("initial connect: %w", err)
	}
	defer l.broker.Close()

	// Reconcile before any new signal can produce an order.
	adopted, conflicts, err := l.manager.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering orders: %w", err)
	}
	for _, ord := range adopted {
		l.log.Info("resumed order", "intent", ord.IntentID, "status", ord.Status)
	}
	for _, conflict := range conflicts {
		l.core.Freeze(conflict.Symbol)
		l.notifier.Alert(ctx, "critical", conflict.Error())
	}

	if err := l.adoptPositions(ctx); err != nil {
		return err
	}
	l.warmup(ctx)
	l.notifier.Alert(ctx, "info", "trading started")

	go l.poller.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			l.notifier.Alert(context.WithoutCancel(ctx), "info", "trading stopped")
			return nil

		case bar, ok := <-l.poller.Bars():
			if !ok {
				return nil
			}
			if err := l.cycle(ctx, bar); err != nil {
				l.notifier.Alert(ctx, "critical", err.Error())
				return err
			}
		}
	}
}

// warmup backfills the rolling windows from recent broker history so
// strategies can signal on the first real-time bar instead of sitting out a
// full warmup period after every boot. Backfill failure is not fatal: the
// affected symbols warm up on live bars as they arrive.
func (l *Live) warmup(ctx context.Context) {
	if l.bars == nil || l.core.windowSize <= 1 {
		return
	}
	interval := l.trading.Timeframe.Duration()
	end := time.Now().UTC().Truncate(interval)
	start := end.Add(-time.Duration(l.core.windowSize+1) * interval)

	var history []domain.Bar
	for _, symbol := range l.trading.Instruments {
		bars, err := l.bars.GetBars(ctx, symbol, l.trading.Timeframe, start, end)
		if err != nil {
			l.log.Warn("warmup backfill failed, warming up on live bars",
				"symbol", symbol, "err", err)
			continue
		}
		history = append(history, bars...)
	}

	// Replay in timestamp order with a symbol tie-break, the same ordering
	// the historical feed produces.
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].Timestamp.Equal(history[j].Timestamp) {
			return history[i].Symbol < history[j].Symbol
		}
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	l.core.Warmup(history)
	l.log.Info("strategies warmed up", "bars", len(history))
}

// cycle processes one bar end to end: sync broker-side order state, run the
// Core, submit resulting intents, snapshot.
func (l *Live) cycle(ctx context.Context, bar domain.Bar) error {
	if err := l.syncOrders(ctx); err != nil {
		l.handleConnectionLoss(ctx, err)
	}

	for _, action := range l.core.ProcessBar(bar) {
		if action.Rejection != nil {
			continue // already logged and typed by the sizer
		}
		if l.halted {
			l.log.Warn("submission halted, dropping intent",
				"symbol", action.Intent.Symbol, "intent", action.Intent.IntentID)
			continue
		}

		l.notifier.SignalDetected(ctx, action.Signal)
		if l.hub != nil {
			l.hub.Publish("signal", action.Signal)
		}

		ord, err := l.manager.Submit(ctx, action.Intent)
		switch {
		case errors.Is(err, domain.ErrRejection):
			l.notifier.Alert(ctx, "warning", err.Error())
		case errors.Is(err, domain.ErrConnection):
			l.handleConnectionLoss(ctx, err)
		case err != nil:
			return fmt.Errorf("submitting intent %s: %w", action.Intent.IntentID, err)
		default:
			l.log.Info("order submitted",
				"intent", ord.IntentID, "symbol", ord.Symbol, "status", ord.Status)
		}
	}

	snap := l.ledger.Snapshot()
	if err := l.snapshots.AppendSnapshot(ctx, snap); err != nil {
		l.log.Error("appending snapshot", "err", err)
	}
	if l.hub != nil {
		l.hub.Publish("snapshot", snap)
	}
	return nil
}

// syncOrders polls broker state for every locally open order, applies any
// fills to the ledger, and persists the resulting position.
func (l *Live) syncOrders(ctx context.Context) error {
	open, err := l.orders.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("listing open orders: %w", err)
	}

	for i := range open {
		remote, err := l.broker.GetOrderByClientID(ctx, open[i].IntentID)
		if err != nil {
			return err
		}
		if remote == nil {
			continue
		}

		fill, err := l.manager.ApplyUpdate(ctx, remote)
		if err != nil {
			l.log.Error("applying order update", "intent", open[i].IntentID, "err", err)
			continue
		}
		if fill == nil {
			continue
		}

		before, _ := l.ledger.Position(fill.Symbol)
		pos := l.ledger.Apply(*fill)
		l.persistPosition(ctx, pos)

		if l.hub != nil {
			l.hub.Publish("fill", fill)
		}
		if realized := pos.RealizedPnL - l.prevRealized[fill.Symbol]; realized != 0 {
			l.notifier.TradeClosed(ctx, *fill, realized)
			l.prevRealized[fill.Symbol] = pos.RealizedPnL
		} else if before.IsFlat() && !pos.IsFlat() {
			l.notifier.TradeOpened(ctx, remote)
		}
	}
	return nil
}

// persistPosition mirrors the ledger's view of one symbol into the durable
// position store; a flat position deletes the row.
func (l *Live) persistPosition(ctx context.Context, pos domain.Position) {
	var err error
	if pos.IsFlat() {
		err = l.positions.DeletePosition(ctx, pos.Symbol)
	} else {
		err = l.positions.SavePosition(ctx, &pos)
	}
	if err != nil {
		l.log.Error("persisting position", "symbol", pos.Symbol, "err", err)
	}
}

// adoptPositions installs the broker's open positions as the ledger's
// starting state.
func (l *Live) adoptPositions(ctx context.Context) error {
	positions, err := l.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching broker positions: %w", err)
	}
	for _, pos := range positions {
		l.ledger.Adopt(pos)
		l.prevRealized[pos.Symbol] = pos.RealizedPnL
		l.persistPosition(ctx, pos)
	}
	return nil
}

// handleConnectionLoss halts new submissions and retries the connection with
// bounded backoff. A successful reconnect lifts the halt. Exhausting the
// budget raises a single critical alert and leaves the driver running: open
// positions keep being tracked read-only, and a later cycle may still
// restore the connection.
func (l *Live) handleConnectionLoss(ctx context.Context, cause error) {
	if !l.halted {
		l.halted = true
		l.log.Error("broker connection lost, halting new orders", "err", cause)
		l.notifier.Alert(ctx, "warning", "broker connection lost, new orders halted")
	}

	if err := l.connect(ctx); err != nil {
		if !l.exhausted {
			l.exhausted = true
			l.log.Error("reconnect budget exhausted, tracking read-only", "err", cause)
			l.notifier.Alert(ctx, "critical",
				"reconnect budget exhausted: submissions halted, tracking positions read-only")
		}
		return
	}

	l.halted = false
	l.exhausted = false
	l.log.Info("broker connection restored")
	l.notifier.Alert(ctx, "info", "broker connection restored")
}

func (l *Live) connect(ctx context.Context) error {
	return util.Retry(ctx, l.cfg.MaxReconnectAttempts, l.cfg.ReconnectBackoff, func() error {
		return l.broker.Connect(ctx)
	})
}
