// Package store defines storage interfaces for persisting and retrieving
// domain objects such as bars, orders, positions, and account snapshots.
package store

import (
	"context"
	"errors"
	"time"

	"meridian/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// BarStore persists and retrieves OHLCV bar data for backtests.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end],
	// ordered by timestamp.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in storage.
	ListSymbols(ctx context.Context) ([]string, error)
}

// OrderStore persists order records keyed by their intent id (the
// idempotency key). The write in SaveOrder must be durable before it
// returns: the order manager calls it strictly before any network
// submission.
type OrderStore interface {
	// SaveOrder inserts a new order keyed by its intent id.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its intent id.
	GetOrder(ctx context.Context, intentID string) (*domain.Order, error)

	// ListOrders returns all orders matching the given status.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// ListOpenOrders returns all orders in non-terminal states, used by
	// startup reconciliation.
	ListOpenOrders(ctx context.Context) ([]domain.Order, error)

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
}

// PositionStore persists and retrieves position records.
type PositionStore interface {
	// SavePosition inserts or updates a position for a symbol.
	SavePosition(ctx context.Context, pos *domain.Position) error

	// GetPosition retrieves the current position for a symbol.
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)

	// ListPositions returns all stored positions.
	ListPositions(ctx context.Context) ([]domain.Position, error)

	// DeletePosition removes the position for a symbol.
	DeletePosition(ctx context.Context, symbol string) error
}

// SnapshotStore persists the append-only account equity curve.
type SnapshotStore interface {
	// AppendSnapshot adds one record to the equity curve.
	AppendSnapshot(ctx context.Context, snap domain.AccountSnapshot) error

	// ListSnapshots returns snapshots within [start, end], ordered by
	// timestamp.
	ListSnapshots(ctx context.Context, start, end time.Time) ([]domain.AccountSnapshot, error)
}
