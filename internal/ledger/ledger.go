// Package ledger maintains the authoritative record of open positions and
// the account equity curve.
//
// All mutation is serialized through a single owner goroutine: fills may be
// produced by concurrent instrument workers, but every Apply/Mark/Snapshot
// call is routed onto one loop, so the ledger never needs locks and every
// snapshot is consistent.
package ledger

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"meridian/internal/domain"
)

// defaultLeverage is used for margin accounting when none is configured.
const defaultLeverage = 30.0

// Ledger tracks net positions per symbol and account equity. Create with
// New, release with Close.
type Ledger struct {
	ops  chan func()
	done chan struct{}

	// State below is touched only by the owner goroutine.
	balance   float64
	leverage  float64
	symbols   map[string]domain.SymbolInfo
	positions map[string]*domain.Position
	lastPrice map[string]float64
	lastTime  time.Time
	log       *slog.Logger
}

// New creates a Ledger seeded with the initial account balance and starts
// its owner goroutine.
func New(initialBalance float64, symbols map[string]domain.SymbolInfo, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	l := &Ledger{
		ops:       make(chan func()),
		done:      make(chan struct{}),
		balance:   initialBalance,
		leverage:  defaultLeverage,
		symbols:   symbols,
		positions: make(map[string]*domain.Position),
		lastPrice: make(map[string]float64),
		log:       log.With("component", "ledger"),
	}
	go l.loop()
	return l
}

func (l *Ledger) loop() {
	for op := range l.ops {
		op()
	}
	close(l.done)
}

// do runs fn on the owner goroutine and waits for completion.
func (l *Ledger) do(fn func()) {
	reply := make(chan struct{})
	l.ops <- func() {
		fn()
		close(reply)
	}
	<-reply
}

// Close stops the owner goroutine. The ledger must not be used afterwards.
func (l *Ledger) Close() {
	close(l.ops)
	<-l.done
}

// ---------------------------------------------------------------------------
// Mutation
// ---------------------------------------------------------------------------

// Apply nets a fill into the symbol's position and returns the updated
// position. An opposing fill reduces the position; if it exceeds the open
// volume the remainder flips direction, realizing PnL on the closed portion
// at the fill price.
func (l *Ledger) Apply(fill domain.Fill) domain.Position {
	var out domain.Position
	l.do(func() {
		out = l.apply(fill)
	})
	return out
}

func (l *Ledger) apply(fill domain.Fill) domain.Position {
	pos, ok := l.positions[fill.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: fill.Symbol}
		l.positions[fill.Symbol] = pos
	}

	qty := fill.Volume
	if fill.Side == domain.OrderSideSell {
		qty = -qty
	}

	contract := l.contractSize(fill.Symbol)

	switch {
	case pos.NetVolume == 0 || sameSign(pos.NetVolume, qty):
		// Opening or adding: volume-weighted entry price.
		total := pos.NetVolume + qty
		pos.AvgEntryPrice = (pos.AvgEntryPrice*math.Abs(pos.NetVolume) + fill.Price*math.Abs(qty)) / math.Abs(total)
		if pos.NetVolume == 0 {
			pos.OpenedAt = fill.Timestamp
		}
		pos.NetVolume = total

	default:
		// Opposing fill: close up to the open volume, realize PnL at the
		// fill price, and flip with any remainder.
		closed := math.Min(math.Abs(qty), math.Abs(pos.NetVolume))
		direction := 1.0
		if pos.IsShort() {
			direction = -1
		}
		realized := (fill.Price - pos.AvgEntryPrice) * closed * contract * direction
		pos.RealizedPnL += realized
		l.balance += realized

		remaining := pos.NetVolume + qty
		if remaining == 0 {
			pos.NetVolume = 0
			pos.AvgEntryPrice = 0
			pos.UnrealizedPnL = 0
		} else if sameSign(remaining, pos.NetVolume) {
			// Partial close: entry price unchanged.
			pos.NetVolume = remaining
		} else {
			// Flip: the surplus opens a fresh position at the fill price.
			pos.NetVolume = remaining
			pos.AvgEntryPrice = fill.Price
			pos.OpenedAt = fill.Timestamp
		}
	}

	l.lastPrice[fill.Symbol] = fill.Price
	if fill.Timestamp.After(l.lastTime) {
		l.lastTime = fill.Timestamp
	}
	l.markSymbol(pos)

	l.log.Debug("fill applied",
		"symbol", fill.Symbol,
		"side", fill.Side,
		"volume", fill.Volume,
		"price", fill.Price,
		"net", pos.NetVolume,
		"realized", pos.RealizedPnL,
	)
	return *pos
}

// Mark updates the mark price for a symbol, refreshing unrealized PnL. Both
// drivers call it once per processed bar before taking a snapshot.
func (l *Ledger) Mark(symbol string, price float64, ts time.Time) {
	l.do(func() {
		l.lastPrice[symbol] = price
		if ts.After(l.lastTime) {
			l.lastTime = ts
		}
		if pos, ok := l.positions[symbol]; ok {
			l.markSymbol(pos)
		}
	})
}

// Adopt installs a broker-reported position during startup reconciliation.
func (l *Ledger) Adopt(pos domain.Position) {
	l.do(func() {
		p := pos
		l.positions[pos.Symbol] = &p
		l.log.Info("adopted broker position",
			"symbol", pos.Symbol,
			"net", pos.NetVolume,
			"entry", pos.AvgEntryPrice,
		)
	})
}

func (l *Ledger) markSymbol(pos *domain.Position) {
	if pos.NetVolume == 0 {
		pos.UnrealizedPnL = 0
		return
	}
	price, ok := l.lastPrice[pos.Symbol]
	if !ok {
		return
	}
	direction := 1.0
	if pos.IsShort() {
		direction = -1
	}
	pos.UnrealizedPnL = (price - pos.AvgEntryPrice) * math.Abs(pos.NetVolume) * l.contractSize(pos.Symbol) * direction
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Snapshot returns the current account state: balance plus unrealized PnL
// marked at the latest known prices.
func (l *Ledger) Snapshot() domain.AccountSnapshot {
	var snap domain.AccountSnapshot
	l.do(func() {
		unrealized := 0.0
		margin := 0.0
		// Fixed iteration order keeps float accumulation reproducible.
		for _, symbol := range l.sortedSymbols() {
			pos := l.positions[symbol]
			unrealized += pos.UnrealizedPnL
			if pos.NetVolume != 0 {
				price := l.lastPrice[pos.Symbol]
				margin += math.Abs(pos.NetVolume) * l.contractSize(pos.Symbol) * price / l.leverage
			}
		}
		snap = domain.AccountSnapshot{
			Equity:     l.balance + unrealized,
			Balance:    l.balance,
			MarginUsed: margin,
			Timestamp:  l.lastTime,
		}
	})
	return snap
}

// Position returns the position for a symbol, if any.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	var (
		out domain.Position
		ok  bool
	)
	l.do(func() {
		var pos *domain.Position
		pos, ok = l.positions[symbol]
		if ok {
			out = *pos
		}
	})
	return out, ok
}

// Positions returns a copy of all non-flat positions, ordered by symbol.
func (l *Ledger) Positions() []domain.Position {
	var out []domain.Position
	l.do(func() {
		for _, symbol := range l.sortedSymbols() {
			if pos := l.positions[symbol]; pos.NetVolume != 0 {
				out = append(out, *pos)
			}
		}
	})
	return out
}

func (l *Ledger) sortedSymbols() []string {
	symbols := make([]string, 0, len(l.positions))
	for s := range l.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

func (l *Ledger) contractSize(symbol string) float64 {
	if info, ok := l.symbols[symbol]; ok && info.ContractSize > 0 {
		return info.ContractSize
	}
	return 1
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
