// Package feed turns stored or broker-sourced market data into the single
// ordered bar stream the engine consumes.
package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"meridian/internal/domain"
	"meridian/internal/store"
)

// Weekend closes leave holes up to three intervals wide in daily forex
// data; anything wider than this is treated as a real gap.
const gapToleranceIntervals = 4

// History replays stored bars for a set of symbols as one stream in strict
// timestamp order. Ties between symbols break alphabetically, so a replay of
// the same data is always identical.
type History struct {
	store     store.BarStore
	symbols   []string
	timeframe domain.Timeframe
}

// NewHistory creates a History over the given symbols and bar interval.
func NewHistory(s store.BarStore, symbols []string, tf domain.Timeframe) *History {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	return &History{store: s, symbols: sorted, timeframe: tf}
}

// Load reads, validates, and merges all bars in [start, end]. A symbol whose
// stream has a hole wider than the gap tolerance fails the whole range with
// a DataGapError; a symbol with no bars at all does the same.
func (h *History) Load(ctx context.Context, start, end time.Time) ([]domain.Bar, error) {
	var streams [][]domain.Bar
	for _, symbol := range h.symbols {
		bars, err := h.store.ReadBars(ctx, symbol, start, end)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
		}
		if len(bars) == 0 {
			return nil, &domain.DataGapError{Symbol: symbol, From: start, To: end}
		}
		if err := checkGaps(bars, h.timeframe); err != nil {
			return nil, err
		}
		streams = append(streams, bars)
	}
	return mergeStreams(streams), nil
}

// checkGaps scans one symbol's stream for holes wider than the tolerance.
func checkGaps(bars []domain.Bar, tf domain.Timeframe) error {
	limit := time.Duration(gapToleranceIntervals) * tf.Duration()
	for i := 1; i < len(bars); i++ {
		if delta := bars[i].Timestamp.Sub(bars[i-1].Timestamp); delta > limit {
			return &domain.DataGapError{
				Symbol: bars[i].Symbol,
				From:   bars[i-1].Timestamp,
				To:     bars[i].Timestamp,
			}
		}
	}
	return nil
}

// mergeStreams interleaves per-symbol streams into one timestamp-ordered
// stream. Each input stream is already sorted; streams arrive in symbol
// order, which fixes the tie-break.
func mergeStreams(streams [][]domain.Bar) []domain.Bar {
	total := 0
	for _, s := range streams {
		total += len(s)
	}
	merged := make([]domain.Bar, 0, total)

	idx := make([]int, len(streams))
	for {
		best := -1
		for i, s := range streams {
			if idx[i] >= len(s) {
				continue
			}
			if best == -1 || s[idx[i]].Timestamp.Before(streams[best][idx[best]].Timestamp) {
				best = i
			}
		}
		if best == -1 {
			return merged
		}
		merged = append(merged, streams[best][idx[best]])
		idx[best]++
	}
}
