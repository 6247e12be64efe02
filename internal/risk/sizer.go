// Package risk converts signals into sized order intents, enforcing
// per-trade risk and aggregate exposure limits.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"meridian/internal/config"
	"meridian/internal/domain"
)

// RejectReason classifies why a signal was not sized into an order intent.
type RejectReason string

const (
	RejectMissingSymbolInfo RejectReason = "missing_symbol_info"
	RejectInvalidStop       RejectReason = "invalid_stop_distance"
	RejectZeroVolume        RejectReason = "volume_rounds_to_zero"
	RejectMaxPositions      RejectReason = "max_open_positions"
	RejectMaxExposure       RejectReason = "max_aggregate_exposure"
)

// Rejection is the typed outcome for a signal that is not tradeable.
// Rejections are terminal for the signal: they are logged and notified but
// never retried.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("signal rejected (%s): %s", r.Reason, r.Detail)
}

// Sizer computes order volume from a configured risk-per-trade fraction of
// equity divided by the stop distance, rounded to the broker's lot step.
type Sizer struct {
	cfg     config.TradingConfig
	symbols map[string]domain.SymbolInfo
	log     *slog.Logger
}

// NewSizer creates a Sizer from the trading configuration.
func NewSizer(cfg config.TradingConfig, symbols map[string]domain.SymbolInfo, log *slog.Logger) *Sizer {
	if log == nil {
		log = slog.Default()
	}
	return &Sizer{
		cfg:     cfg,
		symbols: symbols,
		log:     log.With("component", "risk"),
	}
}

// Size converts a long/short signal into a concrete order intent, or a
// typed rejection. entryPrice is the reference price of the triggering bar;
// open holds the currently open positions for exposure checks.
//
// Volume is riskPerTrade × equity divided by the stop distance expressed in
// pips times the pip value, rounded to the symbol's lot step.
func (s *Sizer) Size(
	sig *domain.Signal,
	account domain.AccountSnapshot,
	entryPrice float64,
	open []domain.Position,
) (*domain.OrderIntent, *Rejection) {
	info, ok := s.symbols[sig.Symbol]
	if !ok || info.PipSize <= 0 || info.PipValue <= 0 {
		return nil, s.reject(sig, RejectMissingSymbolInfo,
			fmt.Sprintf("no pip configuration for %s", sig.Symbol))
	}

	side := domain.OrderSideBuy
	if sig.Direction == domain.DirectionShort {
		side = domain.OrderSideSell
	}

	stop := sig.StopLoss
	if stop == 0 {
		dist := s.cfg.StopLossPips * info.PipSize
		if side == domain.OrderSideBuy {
			stop = entryPrice - dist
		} else {
			stop = entryPrice + dist
		}
	}

	stopDistance := entryPrice - stop
	if side == domain.OrderSideSell {
		stopDistance = stop - entryPrice
	}
	if stopDistance <= 0 {
		return nil, s.reject(sig, RejectInvalidStop,
			fmt.Sprintf("stop %.5f not beyond entry %.5f for %s", stop, entryPrice, side))
	}

	stopPips := stopDistance / info.PipSize
	riskAmount := account.Equity * s.cfg.RiskPerTrade
	volume := riskAmount / (stopPips * info.PipValue)

	// Round down to the broker's lot step. Rounding up could push the
	// risked amount past the configured fraction.
	if info.LotStep > 0 {
		volume = math.Floor(volume/info.LotStep) * info.LotStep
	}
	if info.MaxLot > 0 && volume > info.MaxLot {
		volume = info.MaxLot
	}
	if volume <= 0 || (info.MinLot > 0 && volume < info.MinLot) {
		return nil, s.reject(sig, RejectZeroVolume,
			fmt.Sprintf("computed volume %.4f below minimum lot", volume))
	}

	// Position-count and aggregate-exposure limits. A signal for a symbol
	// that is already open nets against the existing position instead of
	// adding a slot.
	openCount := 0
	aggregate := 0.0
	alreadyOpen := false
	for _, p := range open {
		if p.IsFlat() {
			continue
		}
		openCount++
		aggregate += math.Abs(p.NetVolume)
		if p.Symbol == sig.Symbol {
			alreadyOpen = true
		}
	}
	if !alreadyOpen && openCount >= s.cfg.MaxPositions {
		return nil, s.reject(sig, RejectMaxPositions,
			fmt.Sprintf("%d positions already open (max %d)", openCount, s.cfg.MaxPositions))
	}
	if s.cfg.MaxExposure > 0 && aggregate+volume > s.cfg.MaxExposure {
		return nil, s.reject(sig, RejectMaxExposure,
			fmt.Sprintf("aggregate exposure %.2f + %.2f exceeds %.2f", aggregate, volume, s.cfg.MaxExposure))
	}

	takeProfit := sig.TakeProfit
	if takeProfit == 0 && s.cfg.RiskRewardRatio > 0 {
		reward := stopDistance * s.cfg.RiskRewardRatio
		if side == domain.OrderSideBuy {
			takeProfit = entryPrice + reward
		} else {
			takeProfit = entryPrice - reward
		}
	}

	intent := &domain.OrderIntent{
		IntentID:   uuid.NewString(),
		Symbol:     sig.Symbol,
		Side:       side,
		Volume:     volume,
		StopLoss:   stop,
		TakeProfit: takeProfit,
		SignalID:   sig.ID,
		Strategy:   sig.Strategy,
		CreatedAt:  sig.Timestamp,
	}

	s.log.Debug("sized signal",
		"symbol", sig.Symbol,
		"side", side,
		"volume", volume,
		"stop", stop,
		"takeProfit", takeProfit,
	)
	return intent, nil
}

// CloseIntent builds an intent that flattens the given position. Closing an
// existing position bypasses sizing limits.
func (s *Sizer) CloseIntent(pos *domain.Position, sig *domain.Signal) *domain.OrderIntent {
	side := domain.OrderSideSell
	if pos.IsShort() {
		side = domain.OrderSideBuy
	}
	created := time.Time{}
	strategyName := ""
	signalID := ""
	if sig != nil {
		created = sig.Timestamp
		strategyName = sig.Strategy
		signalID = sig.ID
	}
	return &domain.OrderIntent{
		IntentID:  uuid.NewString(),
		Symbol:    pos.Symbol,
		Side:      side,
		Volume:    math.Abs(pos.NetVolume),
		SignalID:  signalID,
		Strategy:  strategyName,
		CreatedAt: created,
	}
}

func (s *Sizer) reject(sig *domain.Signal, reason RejectReason, detail string) *Rejection {
	s.log.Info("signal rejected",
		"symbol", sig.Symbol,
		"strategy", sig.Strategy,
		"reason", string(reason),
		"detail", detail,
	)
	return &Rejection{Reason: reason, Detail: detail}
}
