// Package notify pushes trade and system events to an operator channel.
// Delivery is fire-and-forget: a notification failure is logged and never
// blocks or fails the trading path.
package notify

import (
	"context"

	"meridian/internal/domain"
)

// Notifier receives engine events worth a human's attention.
type Notifier interface {
	// TradeOpened reports a new position entry.
	TradeOpened(ctx context.Context, order *domain.Order)

	// TradeClosed reports a realized close, with the PnL of the closed
	// portion.
	TradeClosed(ctx context.Context, fill domain.Fill, realizedPnL float64)

	// SignalDetected reports a signal that was sized into an intent.
	SignalDetected(ctx context.Context, sig *domain.Signal)

	// Alert reports a system condition ("startup", "reconciliation
	// conflict", "connection lost").
	Alert(ctx context.Context, level, message string)
}

// Noop discards all notifications. Used when no channel is configured.
type Noop struct{}

var _ Notifier = Noop{}

func (Noop) TradeOpened(context.Context, *domain.Order)         {}
func (Noop) TradeClosed(context.Context, domain.Fill, float64)  {}
func (Noop) SignalDetected(context.Context, *domain.Signal)     {}
func (Noop) Alert(context.Context, string, string)              {}
