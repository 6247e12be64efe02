// Package domain defines the core types shared across the trading system:
// market events, signals, order intents, orders, fills, positions, and
// account snapshots.
package domain

import "time"

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV market event for one symbol. Bars are immutable once
// emitted and ordered by timestamp within a symbol's stream. Seq is assigned
// by the event source and is strictly increasing per symbol.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Seq       int64
}

// Timeframe identifies the bar interval of a market-data stream.
type Timeframe string

const (
	TimeframeM1  Timeframe = "1m"
	TimeframeM5  Timeframe = "5m"
	TimeframeM15 Timeframe = "15m"
	TimeframeH1  Timeframe = "1h"
	TimeframeD1  Timeframe = "1d"
)

// Duration returns the bar interval as a time.Duration. Unknown timeframes
// fall back to one day.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TimeframeM1:
		return time.Minute
	case TimeframeM5:
		return 5 * time.Minute
	case TimeframeM15:
		return 15 * time.Minute
	case TimeframeH1:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// SymbolInfo carries the broker's contract specification for a symbol. The
// risk sizer cannot size an order without it.
type SymbolInfo struct {
	Symbol       string  `yaml:"symbol"`
	PipSize      float64 `yaml:"pip_size"`      // price increment of one pip (e.g. 0.0001)
	PipValue     float64 `yaml:"pip_value"`     // account-currency value of one pip per lot
	ContractSize float64 `yaml:"contract_size"` // units per lot (e.g. 100000 for forex)
	LotStep      float64 `yaml:"lot_step"`      // minimum volume increment
	MinLot       float64 `yaml:"min_lot"`
	MaxLot       float64 `yaml:"max_lot"`
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Direction is the side a signal suggests.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

// Signal is a directional trading suggestion produced by a strategy for one
// symbol. Signals are produced, never mutated, and consumed exactly once by
// the risk sizer.
type Signal struct {
	ID         string
	Symbol     string
	Direction  Direction
	Confidence float64 // 0..1
	Strategy   string
	Timestamp  time.Time // timestamp of the triggering bar
	StopLoss   float64   // optional: strategy-supplied stop price (0 = unset)
	TakeProfit float64   // optional: strategy-supplied target price (0 = unset)
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderIntent is a sized, not-yet-submitted order derived from a Signal.
// IntentID is the idempotency key that prevents duplicate submission across
// retries and process restarts.
type OrderIntent struct {
	IntentID   string
	Symbol     string
	Side       OrderSide
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	SignalID   string
	Strategy   string
	CreatedAt  time.Time
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusAcknowledged    OrderStatus = "acknowledged"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Order is the lifecycle record for one OrderIntent (1:1). It is owned
// exclusively by the order manager and persisted before any network call.
type Order struct {
	IntentID       string
	BrokerOrderID  string // assigned on broker acknowledgement
	Symbol         string
	Side           OrderSide
	Volume         float64
	StopLoss       float64
	TakeProfit     float64
	Status         OrderStatus
	FilledVolume   float64
	FilledAvgPrice float64
	ErrorDetail    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RemainingVolume returns the unfilled volume.
func (o *Order) RemainingVolume() float64 {
	rem := o.Volume - o.FilledVolume
	if rem < 0 {
		return 0
	}
	return rem
}

// Fill records an execution (possibly partial) against an order.
type Fill struct {
	IntentID  string
	Symbol    string
	Side      OrderSide
	Volume    float64
	Price     float64
	Timestamp time.Time
}

// ---------------------------------------------------------------------------
// Positions and account state
// ---------------------------------------------------------------------------

// Position is the net position for one symbol. NetVolume is signed: positive
// for long, negative for short. Only the position ledger mutates it.
type Position struct {
	Symbol        string
	NetVolume     float64
	AvgEntryPrice float64
	RealizedPnL   float64
	UnrealizedPnL float64
	OpenedAt      time.Time
}

// IsLong reports whether the position is net long.
func (p *Position) IsLong() bool { return p.NetVolume > 0 }

// IsShort reports whether the position is net short.
func (p *Position) IsShort() bool { return p.NetVolume < 0 }

// IsFlat reports whether there is no open position.
func (p *Position) IsFlat() bool { return p.NetVolume == 0 }

// AccountSnapshot is one point on the account equity curve. Snapshots are
// append-only; one is recorded per processed event cycle.
type AccountSnapshot struct {
	Equity     float64
	Balance    float64
	MarginUsed float64
	Timestamp  time.Time
}
