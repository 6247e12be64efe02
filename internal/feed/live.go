package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"meridian/internal/broker"
	"meridian/internal/domain"
)

// LivePoller polls the broker for closed bars, one worker per symbol, and
// funnels everything into a single output channel. A shared rate limiter
// keeps the combined request rate under the API budget no matter how many
// symbols are configured.
type LivePoller struct {
	source    broker.BarSource
	symbols   []string
	timeframe domain.Timeframe
	limiter   *rate.Limiter
	out       chan domain.Bar
	log       *slog.Logger
}

// NewLivePoller creates a LivePoller for the given symbols. pollsPerMinute
// caps the total request rate across all symbol workers.
func NewLivePoller(source broker.BarSource, symbols []string, tf domain.Timeframe, pollsPerMinute int) *LivePoller {
	return &LivePoller{
		source:    source,
		symbols:   symbols,
		timeframe: tf,
		limiter:   rate.NewLimiter(rate.Limit(float64(pollsPerMinute)/60.0), 1),
		out:       make(chan domain.Bar, 64),
		log:       slog.Default().With("component", "live-feed"),
	}
}

// Bars returns the merged bar stream. The channel is closed when Run
// returns.
func (p *LivePoller) Bars() <-chan domain.Bar { return p.out }

// Run starts one polling worker per symbol and blocks until ctx is
// cancelled. Poll failures are logged and retried on the next tick; the
// engine tracks broker health through the order path, not the feed.
func (p *LivePoller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, symbol := range p.symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			p.pollSymbol(ctx, symbol)
		}(symbol)
	}
	wg.Wait()
	close(p.out)
}

func (p *LivePoller) pollSymbol(ctx context.Context, symbol string) {
	interval := p.timeframe.Duration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		lastSeen time.Time
		seq      int64
	)

	// First fetch backfills the most recent closed bar immediately so the
	// engine's warmup window starts moving before the first full interval
	// elapses.
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		now := time.Now().UTC()
		start := lastSeen.Add(time.Millisecond)
		if lastSeen.IsZero() {
			start = now.Add(-2 * interval)
		}
		// Only closed bars: stop the window at the last completed interval.
		end := now.Truncate(interval)

		bars, err := p.source.GetBars(ctx, symbol, p.timeframe, start, end)
		if err != nil {
			p.log.Warn("poll failed", "symbol", symbol, "err", err)
		}
		for _, bar := range bars {
			if !bar.Timestamp.After(lastSeen) {
				continue
			}
			lastSeen = bar.Timestamp
			bar.Seq = seq
			seq++

			select {
			case p.out <- bar:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
