package builtins

import (
	"meridian/internal/domain"
	"meridian/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*TrendFollowing)(nil)

// TrendFollowing signals in the direction of a fast/slow moving average
// crossover. A long signal fires when the fast SMA crosses above the slow
// SMA on the newest bar, a short signal on the opposite cross. While the
// averages stay on the same side no further signals are emitted.
type TrendFollowing struct {
	fastPeriod int
	slowPeriod int
}

// NewTrendFollowing creates the strategy from its configured parameters:
// fast_period (default 10) and slow_period (default 30).
func NewTrendFollowing(params map[string]float64) *TrendFollowing {
	return &TrendFollowing{
		fastPeriod: int(paramOr(params, "fast_period", 10)),
		slowPeriod: int(paramOr(params, "slow_period", 30)),
	}
}

// Name returns "trend-following".
func (s *TrendFollowing) Name() string { return "trend-following" }

// WarmupBars returns the slow period plus one bar for cross detection.
func (s *TrendFollowing) WarmupBars() int { return s.slowPeriod + 1 }

// Evaluate detects a fast/slow SMA cross completed by the newest bar.
func (s *TrendFollowing) Evaluate(window []domain.Bar, state *strategy.State) (*domain.Signal, error) {
	if len(window) < s.WarmupBars() {
		return nil, nil
	}

	prev := window[:len(window)-1]
	fastPrev, slowPrev := sma(prev, s.fastPeriod), sma(prev, s.slowPeriod)
	fastNow, slowNow := sma(window, s.fastPeriod), sma(window, s.slowPeriod)

	last := window[len(window)-1]

	var dir domain.Direction
	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		dir = domain.DirectionLong
	case fastPrev >= slowPrev && fastNow < slowNow:
		dir = domain.DirectionShort
	default:
		return nil, nil
	}

	if dir == state.LastDirection {
		return nil, nil
	}
	state.LastDirection = dir

	// Confidence grows with the separation of the averages relative to price.
	spread := fastNow - slowNow
	if spread < 0 {
		spread = -spread
	}
	confidence := 0.5 + spread/last.Close*100
	if confidence > 1 {
		confidence = 1
	}

	return &domain.Signal{
		Symbol:     last.Symbol,
		Direction:  dir,
		Confidence: confidence,
		Strategy:   s.Name(),
		Timestamp:  last.Timestamp,
	}, nil
}
