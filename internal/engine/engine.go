// Package engine runs the trading loop. The Core turns bars into sized
// order intents through strategies, risk sizing, and the position ledger; it
// is shared verbatim by the backtest and live drivers so a strategy behaves
// identically in both modes.
package engine

import (
	"fmt"
	"log/slog"

	"meridian/internal/domain"
	"meridian/internal/ledger"
	"meridian/internal/risk"
	"meridian/internal/strategy"
)

// Action is one decision produced from a bar. Exactly one of Intent or
// Rejection is set; Close marks an intent that flattens an existing position
// rather than opening one.
type Action struct {
	Signal    *domain.Signal
	Intent    *domain.OrderIntent
	Close     bool
	Rejection *risk.Rejection
}

// Core is the deterministic decision pipeline: rolling bar windows per
// symbol, per-(strategy, symbol) evaluation state, risk sizing against the
// ledger. It is not goroutine-safe; each driver calls ProcessBar from a
// single goroutine.
type Core struct {
	strategies []strategy.Strategy // registry name order, fixed for determinism
	sizer      *risk.Sizer
	ledger     *ledger.Ledger

	windowSize int
	windows    map[string][]domain.Bar
	states     map[string]*strategy.State
	frozen     map[string]bool

	log *slog.Logger
}

// NewCore creates a Core evaluating the registered strategies in sorted
// name order, so the same registry always yields the same decision sequence.
// The rolling window is sized to the registry's largest warmup requirement.
func NewCore(registry *strategy.Registry, sizer *risk.Sizer, led *ledger.Ledger, log *slog.Logger) *Core {
	if log == nil {
		log = slog.Default()
	}
	strategies := make([]strategy.Strategy, 0, len(registry.List()))
	for _, name := range registry.List() {
		s, _ := registry.Get(name)
		strategies = append(strategies, s)
	}
	windowSize := registry.MaxWarmup()
	if windowSize < 1 {
		windowSize = 1
	}
	return &Core{
		strategies: strategies,
		sizer:      sizer,
		ledger:     led,
		windowSize: windowSize,
		windows:    make(map[string][]domain.Bar),
		states:     make(map[string]*strategy.State),
		frozen:     make(map[string]bool),
		log:        log.With("component", "engine"),
	}
}

// Freeze blocks new order intents for a symbol. Used when restart
// reconciliation finds a conflict that needs a human.
func (c *Core) Freeze(symbol string) {
	c.frozen[symbol] = true
	c.log.Warn("symbol frozen", "symbol", symbol)
}

// Warmup advances windows and strategy state with historical bars without
// producing actions. Live mode uses it so strategies are ready on the first
// real-time bar instead of waiting a full warmup period.
func (c *Core) Warmup(bars []domain.Bar) {
	for _, bar := range bars {
		window := c.push(bar)
		for _, strat := range c.strategies {
			state := c.state(strat.Name(), bar.Symbol)
			if _, err := strat.Evaluate(window, state); err != nil {
				c.log.Warn("warmup evaluation failed",
					"strategy", strat.Name(), "symbol", bar.Symbol, "err", err)
			}
		}
	}
}

// ProcessBar runs one event cycle: mark the ledger, evaluate every strategy
// on the symbol's window, and size any signals into actions. The same bar
// sequence against the same starting state always yields the same actions.
func (c *Core) ProcessBar(bar domain.Bar) []Action {
	window := c.push(bar)
	c.ledger.Mark(bar.Symbol, bar.Close, bar.Timestamp)

	var actions []Action
	for _, strat := range c.strategies {
		state := c.state(strat.Name(), bar.Symbol)

		sig, err := strat.Evaluate(window, state)
		if err != nil {
			c.log.Error("strategy evaluation failed",
				"strategy", strat.Name(), "symbol", bar.Symbol, "err", err)
			continue
		}
		if sig == nil {
			continue
		}
		if c.frozen[bar.Symbol] {
			c.log.Warn("signal suppressed on frozen symbol",
				"symbol", bar.Symbol, "strategy", strat.Name())
			continue
		}
		actions = append(actions, c.act(sig, bar)...)
	}
	return actions
}

// act converts one signal into zero or more actions, netting against any
// open position on the symbol.
func (c *Core) act(sig *domain.Signal, bar domain.Bar) []Action {
	pos, open := c.ledger.Position(sig.Symbol)
	open = open && !pos.IsFlat()

	// Flat signal: flatten if anything is open, otherwise nothing to do.
	if sig.Direction == domain.DirectionFlat {
		if !open {
			return nil
		}
		return []Action{{
			Signal: sig,
			Intent: c.sizer.CloseIntent(&pos, sig),
			Close:  true,
		}}
	}

	// Already positioned the same way: the signal adds nothing.
	if open && sameDirection(pos, sig.Direction) {
		return nil
	}

	var actions []Action
	remaining := c.ledger.Positions()
	if open {
		// Opposite position: flatten first, then enter fresh.
		actions = append(actions, Action{
			Signal: sig,
			Intent: c.sizer.CloseIntent(&pos, sig),
			Close:  true,
		})
		remaining = withoutSymbol(remaining, sig.Symbol)
	}

	account := c.ledger.Snapshot()
	intent, rejection := c.sizer.Size(sig, account, bar.Close, remaining)
	if rejection != nil {
		return append(actions, Action{Signal: sig, Rejection: rejection})
	}
	return append(actions, Action{Signal: sig, Intent: intent})
}

// push appends the bar to its symbol's rolling window.
func (c *Core) push(bar domain.Bar) []domain.Bar {
	window := append(c.windows[bar.Symbol], bar)
	if len(window) > c.windowSize {
		window = window[len(window)-c.windowSize:]
	}
	c.windows[bar.Symbol] = window
	return window
}

func (c *Core) state(strategyName, symbol string) *strategy.State {
	key := fmt.Sprintf("%s|%s", strategyName, symbol)
	st, ok := c.states[key]
	if !ok {
		st = strategy.NewState()
		c.states[key] = st
	}
	return st
}

func sameDirection(pos domain.Position, dir domain.Direction) bool {
	return (pos.IsLong() && dir == domain.DirectionLong) ||
		(pos.IsShort() && dir == domain.DirectionShort)
}

func withoutSymbol(positions []domain.Position, symbol string) []domain.Position {
	out := positions[:0]
	for _, p := range positions {
		if p.Symbol != symbol {
			out = append(out, p)
		}
	}
	return out
}
