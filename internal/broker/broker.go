// Package broker abstracts order execution and account access so the order
// manager and both engine drivers can run against either a live brokerage or
// the backtest simulator.
package broker

import (
	"context"
	"time"

	"meridian/internal/domain"
)

// Broker is the execution venue. Implementations must be safe for concurrent
// use; the order manager serializes submissions per intent but may query
// order state from other goroutines.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// Connect establishes the session and verifies credentials.
	Connect(ctx context.Context) error

	// Close releases the session.
	Close() error

	// SubmitOrder sends a sized intent for execution. The intent id travels
	// as the broker-side client order id so a lost acknowledgement can be
	// recovered by GetOrderByClientID.
	SubmitOrder(ctx context.Context, intent *domain.OrderIntent) (*domain.Order, error)

	// GetOrderByClientID looks up an order by the intent id it was submitted
	// with. Returns nil (no error) when the broker has no trace of it.
	GetOrderByClientID(ctx context.Context, intentID string) (*domain.Order, error)

	// GetOpenOrders returns all orders in non-terminal states at the broker.
	GetOpenOrders(ctx context.Context) ([]domain.Order, error)

	// ModifyOrder adjusts the protective stop and target of an open order.
	ModifyOrder(ctx context.Context, brokerOrderID string, stopLoss, takeProfit float64) error

	// CancelOrder requests cancellation of an open order by its broker id.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// GetPositions returns all positions currently held at the broker.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns the broker's view of equity, balance, and margin.
	GetAccount(ctx context.Context) (*domain.AccountSnapshot, error)
}

// BarSource supplies historical bars for one symbol. The live feed polls it;
// the gather command uses it to backfill the Parquet store.
type BarSource interface {
	GetBars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error)
}
