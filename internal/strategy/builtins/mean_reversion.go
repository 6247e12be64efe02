package builtins

import (
	"meridian/internal/domain"
	"meridian/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MeanReversion)(nil)

// MeanReversion trades stretches away from a moving average. It computes the
// z-score of the newest close against an SMA band and signals against the
// stretch: long when price is far below the mean, short when far above, and
// flat once price crosses back through the mean.
type MeanReversion struct {
	period    int
	entryZ    float64
	threshold float64 // minimum stddev as fraction of price to avoid flat markets
}

// NewMeanReversion creates the strategy from its configured parameters:
// period (default 20) and entry_z (default 2).
func NewMeanReversion(params map[string]float64) *MeanReversion {
	return &MeanReversion{
		period:    int(paramOr(params, "period", 20)),
		entryZ:    paramOr(params, "entry_z", 2),
		threshold: paramOr(params, "min_volatility", 1e-9),
	}
}

// Name returns "mean-reversion".
func (s *MeanReversion) Name() string { return "mean-reversion" }

// WarmupBars returns the averaging period.
func (s *MeanReversion) WarmupBars() int { return s.period }

// Evaluate computes the z-score of the newest close against the SMA band.
func (s *MeanReversion) Evaluate(window []domain.Bar, state *strategy.State) (*domain.Signal, error) {
	if len(window) < s.WarmupBars() {
		return nil, nil
	}

	last := window[len(window)-1]
	mean := sma(window, s.period)
	sd := stddev(window, s.period)
	if sd < s.threshold {
		return nil, nil
	}

	z := (last.Close - mean) / sd

	var dir domain.Direction
	switch {
	case z <= -s.entryZ:
		dir = domain.DirectionLong
	case z >= s.entryZ:
		dir = domain.DirectionShort
	case state.LastDirection == domain.DirectionLong && z >= 0,
		state.LastDirection == domain.DirectionShort && z <= 0:
		// Price has reverted through the mean: close out.
		dir = domain.DirectionFlat
	default:
		return nil, nil
	}

	if dir == state.LastDirection {
		return nil, nil
	}
	state.LastDirection = dir

	confidence := z / s.entryZ
	if confidence < 0 {
		confidence = -confidence
	}
	if confidence > 1 {
		confidence = 1
	}
	if dir == domain.DirectionFlat {
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
