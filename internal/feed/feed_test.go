package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"meridian/internal/domain"
)

type memBars struct {
	bars map[string][]domain.Bar
}

func (m *memBars) WriteBars(context.Context, []domain.Bar) error { return nil }

func (m *memBars) ReadBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var out []domain.Bar
	for _, b := range m.bars[symbol] {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBars) ListSymbols(context.Context) ([]string, error) { return nil, nil }

func dailyBars(symbol string, start time.Time, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      c, High: c, Low: c, Close: c,
		}
	}
	return bars
}

func TestHistoryMergesInTimestampOrder(t *testing.T) {
	day0 := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	st := &memBars{bars: map[string][]domain.Bar{
		"EURUSD": dailyBars("EURUSD", day0, 1.10, 1.11, 1.12),
		"GBPUSD": dailyBars("GBPUSD", day0, 1.26, 1.27, 1.28),
	}}

	// Symbol order in the constructor is deliberately reversed; the merge
	// must not depend on it.
	h := NewHistory(st, []string{"GBPUSD", "EURUSD"}, domain.TimeframeD1)
	merged, err := h.Load(context.Background(), day0, day0.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(merged) != 6 {
		t.Fatalf("Load returned %d bars, want 6", len(merged))
	}

	for i := 1; i < len(merged); i++ {
		if merged[i].Timestamp.Before(merged[i-1].Timestamp) {
			t.Fatalf("bar %d out of order: %v after %v", i, merged[i].Timestamp, merged[i-1].Timestamp)
		}
	}
	// Equal timestamps break alphabetically.
	if merged[0].Symbol != "EURUSD" || merged[1].Symbol != "GBPUSD" {
		t.Errorf("tie-break order = %s, %s; want EURUSD, GBPUSD", merged[0].Symbol, merged[1].Symbol)
	}
}

func TestHistoryDeterministicReplay(t *testing.T) {
	day0 := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	st := &memBars{bars: map[string][]domain.Bar{
		"EURUSD": dailyBars("EURUSD", day0, 1.10, 1.11),
		"USDJPY": dailyBars("USDJPY", day0, 148.0, 148.5),
	}}
	h := NewHistory(st, []string{"EURUSD", "USDJPY"}, domain.TimeframeD1)

	first, err := h.Load(context.Background(), day0, day0.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := h.Load(context.Background(), day0, day0.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Load (repeat): %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("replay lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("bar %d differs between replays: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestHistoryRejectsGaps(t *testing.T) {
	day0 := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	bars := dailyBars("EURUSD", day0, 1.10, 1.11)
	// A ten-day hole is wider than any weekend.
	bars = append(bars, domain.Bar{
		Symbol:    "EURUSD",
		Timestamp: day0.AddDate(0, 0, 11),
		Open:      1.12, High: 1.12, Low: 1.12, Close: 1.12,
	})
	st := &memBars{bars: map[string][]domain.Bar{"EURUSD": bars}}

	h := NewHistory(st, []string{"EURUSD"}, domain.TimeframeD1)
	_, err := h.Load(context.Background(), day0, day0.AddDate(0, 0, 11))
	if !errors.Is(err, domain.ErrDataGap) {
		t.Fatalf("Load error = %v, want ErrDataGap", err)
	}

	var gap *domain.DataGapError
	if !errors.As(err, &gap) {
		t.Fatalf("error %v is not a DataGapError", err)
	}
	if gap.Symbol != "EURUSD" {
		t.Errorf("gap symbol = %s, want EURUSD", gap.Symbol)
	}
}

func TestHistoryToleratesWeekends(t *testing.T) {
	// Friday then Monday: a three-day hole in daily data is normal.
	friday := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	st := &memBars{bars: map[string][]domain.Bar{
		"EURUSD": {
			{Symbol: "EURUSD", Timestamp: friday, Close: 1.10},
			{Symbol: "EURUSD", Timestamp: monday, Close: 1.11},
		},
	}}

	h := NewHistory(st, []string{"EURUSD"}, domain.TimeframeD1)
	if _, err := h.Load(context.Background(), friday, monday); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestHistoryEmptySymbolIsGap(t *testing.T) {
	st := &memBars{bars: map[string][]domain.Bar{}}
	h := NewHistory(st, []string{"EURUSD"}, domain.TimeframeD1)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := h.Load(context.Background(), start, start.AddDate(0, 0, 5))
	if !errors.Is(err, domain.ErrDataGap) {
		t.Fatalf("Load error = %v, want ErrDataGap", err)
	}
}
