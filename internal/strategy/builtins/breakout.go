package builtins

import (
	"meridian/internal/domain"
	"meridian/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Breakout)(nil)

// Breakout signals when the newest close escapes an N-bar high/low channel
// built from the preceding bars. The opposite channel bound is supplied as
// the suggested stop-loss price.
type Breakout struct {
	period int
}

// NewBreakout creates the strategy from its configured parameters:
// period (default 20).
func NewBreakout(params map[string]float64) *Breakout {
	return &Breakout{
		period: int(paramOr(params, "period", 20)),
	}
}

// Name returns "breakout".
func (s *Breakout) Name() string { return "breakout" }

// WarmupBars returns the channel period plus the triggering bar.
func (s *Breakout) WarmupBars() int { return s.period + 1 }

// Evaluate checks the newest close against the prior N-bar channel.
func (s *Breakout) Evaluate(window []domain.Bar, state *strategy.State) (*domain.Signal, error) {
	if len(window) < s.WarmupBars() {
		return nil, nil
	}

	last := window[len(window)-1]
	chanHigh := highestHigh(window, s.period, true)
	chanLow := lowestLow(window, s.period, true)

	var dir domain.Direction
	var stop float64
	switch {
	case last.Close > chanHigh:
		dir = domain.DirectionLong
		stop = chanLow
	case last.Close < chanLow:
		dir = domain.DirectionShort
		stop = chanHigh
	default:
		return nil, nil
	}

	if dir == state.LastDirection {
		return nil, nil
	}
	state.LastDirection = dir

	// Confidence scales with how far the close pushed beyond the channel.
	width := chanHigh - chanLow
	confidence := 0.5
	if width > 0 {
		var excess float64
		if dir == domain.DirectionLong {
			excess = last.Close - chanHigh
		} else {
			excess = chanLow - last.Close
		}
		confidence += excess / width
		if confidence > 1 {
			confidence = 1
		}
	}

	return &domain.Signal{
		Symbol:     last.Symbol,
		Direction:  dir,
		Confidence: confidence,
		Strategy:   s.Name(),
		Timestamp:  last.Timestamp,
		StopLoss:   stop,
	}, nil
}
