package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"meridian/internal/config"
	"meridian/internal/domain"
	"meridian/internal/ledger"
	"meridian/internal/order"
	"meridian/internal/risk"
	"meridian/internal/store"
	"meridian/internal/strategy"
)

// ---------------------------------------------------------------------------
// Live driver fixtures
// ---------------------------------------------------------------------------

// stubBroker scripts the broker side of the live loop.
type stubBroker struct {
	connectErr error
	connects   int
	submits    int
	remote     map[string]*domain.Order // by intent id
	positions  []domain.Position
}

func (b *stubBroker) Name() string { return "stub" }

func (b *stubBroker) Connect(context.Context) error {
	b.connects++
	return b.connectErr
}

func (b *stubBroker) Close() error { return nil }

func (b *stubBroker) SubmitOrder(_ context.Context, intent *domain.OrderIntent) (*domain.Order, error) {
	b.submits++
	return &domain.Order{
		IntentID:      intent.IntentID,
		BrokerOrderID: "stub-1",
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Volume:        intent.Volume,
		Status:        domain.OrderStatusAcknowledged,
	}, nil
}

func (b *stubBroker) GetOrderByClientID(_ context.Context, intentID string) (*domain.Order, error) {
	return b.remote[intentID], nil
}

func (b *stubBroker) GetOpenOrders(context.Context) ([]domain.Order, error) { return nil, nil }

func (b *stubBroker) ModifyOrder(context.Context, string, float64, float64) error { return nil }

func (b *stubBroker) CancelOrder(context.Context, string) error { return nil }

func (b *stubBroker) GetPositions(context.Context) ([]domain.Position, error) {
	return b.positions, nil
}

func (b *stubBroker) GetAccount(context.Context) (*domain.AccountSnapshot, error) {
	return &domain.AccountSnapshot{Equity: 10000, Balance: 10000}, nil
}

// stubBars returns a fixed history regardless of the requested window.
type stubBars struct {
	bars  map[string][]domain.Bar
	calls int
}

func (s *stubBars) GetBars(_ context.Context, symbol string, _ domain.Timeframe, _, _ time.Time) ([]domain.Bar, error) {
	s.calls++
	return s.bars[symbol], nil
}

// recordingNotifier counts deliveries by kind.
type recordingNotifier struct {
	alerts map[string]int // level -> count
	opened int
	closed int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{alerts: make(map[string]int)}
}

func (n *recordingNotifier) TradeOpened(context.Context, *domain.Order)        { n.opened++ }
func (n *recordingNotifier) TradeClosed(context.Context, domain.Fill, float64) { n.closed++ }
func (n *recordingNotifier) SignalDetected(context.Context, *domain.Signal)    {}
func (n *recordingNotifier) Alert(_ context.Context, level, _ string)          { n.alerts[level]++ }

// risingLong needs a three-bar window and signals long on a rising close, so
// it can only fire right after boot if the windows were backfilled.
type risingLong struct{}

func (risingLong) Name() string    { return "rising-long" }
func (risingLong) WarmupBars() int { return 3 }

func (risingLong) Evaluate(window []domain.Bar, _ *strategy.State) (*domain.Signal, error) {
	if len(window) < 3 {
		return nil, nil
	}
	last := window[len(window)-1]
	if last.Close <= window[len(window)-2].Close {
		return nil, nil
	}
	return &domain.Signal{
		ID:        "rise-" + last.Timestamp.Format("20060102"),
		Symbol:    last.Symbol,
		Direction: domain.DirectionLong,
		Strategy:  "rising-long",
		Timestamp: last.Timestamp,
	}, nil
}

type liveFixture struct {
	live     *Live
	broker   *stubBroker
	bars     *stubBars
	notifier *recordingNotifier
	store    *store.SQLiteStore
	ledger   *ledger.Ledger
}

func newLiveFixture(t *testing.T, strat strategy.Strategy, signals map[int64]domain.Direction) *liveFixture {
	t.Helper()

	symbols := testSymbolInfo()
	led := ledger.New(10000, symbols, nil)
	t.Cleanup(led.Close)

	registry := strategy.NewRegistry()
	if strat != nil {
		registry.Register(strat)
	} else {
		registry.Register(&scripted{signals: signals})
	}
	core := NewCore(registry, risk.NewSizer(testTradingConfig(), symbols, nil), led, nil)

	sqlite, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "live.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	brk := &stubBroker{remote: make(map[string]*domain.Order)}
	bars := &stubBars{bars: make(map[string][]domain.Bar)}
	notifier := newRecordingNotifier()
	mgr := order.NewManager(brk, sqlite, time.Second)

	bcfg := config.Broker{MaxReconnectAttempts: 1, ReconnectBackoff: 0}
	live := NewLive(core, brk, bars, mgr, led, nil,
		sqlite, sqlite, sqlite, notifier, nil, bcfg, testTradingConfig(), nil)

	return &liveFixture{
		live:     live,
		broker:   brk,
		bars:     bars,
		notifier: notifier,
		store:    sqlite,
		ledger:   led,
	}
}

// ---------------------------------------------------------------------------
// Live driver
// ---------------------------------------------------------------------------

func TestLiveWarmupPrimesStrategies(t *testing.T) {
	f := newLiveFixture(t, risingLong{}, nil)
	f.bars.bars["EURUSD"] = flatBars(3, 1.1000)

	f.live.warmup(context.Background())
	if f.bars.calls == 0 {
		t.Fatal("warmup never asked the bar source for history")
	}

	// First real-time bar: higher close on a primed three-bar window must
	// produce an entry. Without the backfill the window would hold one bar
	// and the strategy would stay silent.
	bar := flatBars(4, 1.1000)[3]
	bar.Close = 1.1020
	actions := f.live.core.ProcessBar(bar)
	if len(actions) != 1 || actions[0].Intent == nil {
		t.Fatalf("first post-warmup bar produced %+v, want one entry intent", actions)
	}
	if actions[0].Intent.Side != domain.OrderSideBuy {
		t.Errorf("Side = %q, want buy", actions[0].Intent.Side)
	}
}

func TestLiveWarmupBackfillFailureIsNotFatal(t *testing.T) {
	f := newLiveFixture(t, risingLong{}, nil)
	// Empty bar source: backfill yields nothing.
	f.live.warmup(context.Background())

	bar := flatBars(1, 1.1000)[0]
	if actions := f.live.core.ProcessBar(bar); len(actions) != 0 {
		t.Errorf("unwarmed core produced %d actions, want 0", len(actions))
	}
}

func TestLiveReconnectExhaustionKeepsTracking(t *testing.T) {
	f := newLiveFixture(t, nil, map[int64]domain.Direction{day(1).Unix(): domain.DirectionLong})
	f.broker.connectErr = errors.New("venue unreachable")
	ctx := context.Background()

	f.live.handleConnectionLoss(ctx, errors.New("sync failed"))
	if !f.live.halted {
		t.Fatal("driver must halt submissions after losing the broker")
	}
	if got := f.notifier.alerts["critical"]; got != 1 {
		t.Fatalf("critical alerts = %d, want 1", got)
	}

	// Budget exhaustion must not kill the loop: the next bar still cycles,
	// the intent is dropped instead of submitted.
	bar := flatBars(2, 1.1000)[1]
	if err := f.live.cycle(ctx, bar); err != nil {
		t.Fatalf("cycle after exhaustion returned %v, want nil", err)
	}
	if f.broker.submits != 0 {
		t.Errorf("submits = %d, want 0 while halted", f.broker.submits)
	}

	// The critical alert fires once, not every bar.
	f.live.handleConnectionLoss(ctx, errors.New("still down"))
	if got := f.notifier.alerts["critical"]; got != 1 {
		t.Errorf("critical alerts = %d, want 1 after repeat failures", got)
	}

	// A later successful reconnect lifts the halt.
	f.broker.connectErr = nil
	f.live.handleConnectionLoss(ctx, errors.New("one more blip"))
	if f.live.halted || f.live.exhausted {
		t.Error("reconnect must lift the halt")
	}
}

func TestLiveSyncPersistsPositions(t *testing.T) {
	f := newLiveFixture(t, nil, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	entry := &domain.Order{
		IntentID: "i-entry", Symbol: "EURUSD", Side: domain.OrderSideBuy,
		Volume: 0.4, Status: domain.OrderStatusAcknowledged,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := f.store.SaveOrder(ctx, entry); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	f.broker.remote["i-entry"] = &domain.Order{
		IntentID: "i-entry", BrokerOrderID: "b-1", Symbol: "EURUSD",
		Side: domain.OrderSideBuy, Volume: 0.4,
		Status: domain.OrderStatusFilled, FilledVolume: 0.4, FilledAvgPrice: 1.1000,
	}

	if err := f.live.syncOrders(ctx); err != nil {
		t.Fatalf("syncOrders: %v", err)
	}
	pos, err := f.store.GetPosition(ctx, "EURUSD")
	if err != nil {
		t.Fatalf("GetPosition after entry fill: %v", err)
	}
	if pos.NetVolume != 0.4 || pos.AvgEntryPrice != 1.1000 {
		t.Fatalf("persisted position = %+v, want 0.4 @ 1.1000", pos)
	}

	// Closing fill flattens the ledger and removes the durable row.
	exit := &domain.Order{
		IntentID: "i-exit", Symbol: "EURUSD", Side: domain.OrderSideSell,
		Volume: 0.4, Status: domain.OrderStatusAcknowledged,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := f.store.SaveOrder(ctx, exit); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	f.broker.remote["i-exit"] = &domain.Order{
		IntentID: "i-exit", BrokerOrderID: "b-2", Symbol: "EURUSD",
		Side: domain.OrderSideSell, Volume: 0.4,
		Status: domain.OrderStatusFilled, FilledVolume: 0.4, FilledAvgPrice: 1.1100,
	}

	if err := f.live.syncOrders(ctx); err != nil {
		t.Fatalf("syncOrders: %v", err)
	}
	if _, err := f.store.GetPosition(ctx, "EURUSD"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetPosition after flat = %v, want ErrNotFound", err)
	}
	if f.notifier.closed != 1 {
		t.Errorf("TradeClosed notifications = %d, want 1", f.notifier.closed)
	}
}

func TestLiveAdoptPersistsBrokerPositions(t *testing.T) {
	f := newLiveFixture(t, nil, nil)
	ctx := context.Background()

	f.broker.positions = []domain.Position{{
		Symbol: "EURUSD", NetVolume: -0.2, AvgEntryPrice: 1.0950,
		OpenedAt: time.Now().UTC(),
	}}
	if err := f.live.adoptPositions(ctx); err != nil {
		t.Fatalf("adoptPositions: %v", err)
	}

	pos, err := f.store.GetPosition(ctx, "EURUSD")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.NetVolume != -0.2 {
		t.Errorf("NetVolume = %v, want -0.2", pos.NetVolume)
	}
}
