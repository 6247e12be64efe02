// Package builtins provides the built-in strategy implementations selected
// by configuration: trend-following, mean-reversion, and breakout.
package builtins

import (
	"math"

	"meridian/internal/domain"
)

// sma returns the simple moving average of the closes of the last period
// bars in the window. The window must hold at least period bars.
func sma(window []domain.Bar, period int) float64 {
	sum := 0.0
	for _, b := range window[len(window)-period:] {
		sum += b.Close
	}
	return sum / float64(period)
}

// stddev returns the population standard deviation of the closes of the
// last period bars around their mean.
func stddev(window []domain.Bar, period int) float64 {
	mean := sma(window, period)
	sumSq := 0.0
	for _, b := range window[len(window)-period:] {
		d := b.Close - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(period))
}

// highestHigh returns the maximum high of the last period bars, excluding
// the newest bar when excludeLast is set.
func highestHigh(window []domain.Bar, period int, excludeLast bool) float64 {
	bars := window
	if excludeLast {
		bars = bars[:len(bars)-1]
	}
	bars = bars[len(bars)-period:]
	high := bars[0].High
	for _, b := range bars[1:] {
		if b.High > high {
			high = b.High
		}
	}
	return high
}

// lowestLow returns the minimum low of the last period bars, excluding the
// newest bar when excludeLast is set.
func lowestLow(window []domain.Bar, period int, excludeLast bool) float64 {
	bars := window
	if excludeLast {
		bars = bars[:len(bars)-1]
	}
	bars = bars[len(bars)-period:]
	low := bars[0].Low
	for _, b := range bars[1:] {
		if b.Low < low {
			low = b.Low
		}
	}
	return low
}

// paramOr reads a named parameter with a fallback default.
func paramOr(params map[string]float64, name string, def float64) float64 {
	if v, ok := params[name]; ok && v != 0 {
		return v
	}
	return def
}
