package builtins

import (
	"fmt"

	"meridian/internal/strategy"
)

// New constructs a built-in strategy by its configured name.
func New(name string, params map[string]float64) (strategy.Strategy, error) {
	switch name {
	case "trend-following":
		return NewTrendFollowing(params), nil
	case "mean-reversion":
		return NewMeanReversion(params), nil
	case "breakout":
		return NewBreakout(params), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
