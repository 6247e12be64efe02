package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meridian/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*Simulator)(nil)

// Simulator implements Broker for backtests. Market orders rest until the
// driver advances the clock with the next bar, then fill completely at that
// bar's open shifted by the configured slippage. All state is in memory and
// the fill sequence is deterministic for a given bar stream.
type Simulator struct {
	mu       sync.Mutex
	symbols  map[string]domain.SymbolInfo
	slippage float64                    // pips applied against the order
	orders   map[string]*domain.Order   // by intent id
	pending  map[string][]*domain.Order // by symbol, submission order
	protect  map[string]*protection     // armed stop/target per symbol
	nextID   int64
}

// protection is the broker-side stop and target attached to a filled entry,
// the way a dealing server holds them. side is the entry side.
type protection struct {
	side   domain.OrderSide
	volume float64
	stop   float64
	take   float64
}

// NewSimulator creates a Simulator for the given contract specifications.
// slippagePips is applied against every fill: buys pay up, sells receive
// less.
func NewSimulator(symbols map[string]domain.SymbolInfo, slippagePips float64) *Simulator {
	return &Simulator{
		symbols:  symbols,
		slippage: slippagePips,
		orders:   make(map[string]*domain.Order),
		pending:  make(map[string][]*domain.Order),
		protect:  make(map[string]*protection),
	}
}

// Name returns "simulator".
func (s *Simulator) Name() string { return "simulator" }

// Connect is a no-op.
func (s *Simulator) Connect(context.Context) error { return nil }

// Close is a no-op.
func (s *Simulator) Close() error { return nil }

// SubmitOrder accepts the intent and queues it for fill on the next bar.
// Resubmitting an intent id returns the existing order unchanged, matching
// the idempotency contract of the live broker.
func (s *Simulator) SubmitOrder(_ context.Context, intent *domain.OrderIntent) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[intent.IntentID]; ok {
		cp := *existing
		return &cp, nil
	}
	if _, ok := s.symbols[intent.Symbol]; !ok {
		return nil, &domain.RejectionError{
			IntentID: intent.IntentID,
			Reason:   fmt.Sprintf("unknown symbol %s", intent.Symbol),
		}
	}

	s.nextID++
	order := &domain.Order{
		IntentID:      intent.IntentID,
		BrokerOrderID: fmt.Sprintf("sim-%d", s.nextID),
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Volume:        intent.Volume,
		StopLoss:      intent.StopLoss,
		TakeProfit:    intent.TakeProfit,
		Status:        domain.OrderStatusAcknowledged,
		CreatedAt:     intent.CreatedAt,
		UpdatedAt:     intent.CreatedAt,
	}
	s.orders[intent.IntentID] = order
	s.pending[intent.Symbol] = append(s.pending[intent.Symbol], order)

	cp := *order
	return &cp, nil
}

// Advance fills all orders resting on bar's symbol at the bar open adjusted
// for slippage, in submission order, then checks armed stops and targets
// against the bar's range. It returns the resulting fills.
func (s *Simulator) Advance(bar domain.Bar) []domain.Fill {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.symbols[bar.Symbol]

	resting := s.pending[bar.Symbol]
	delete(s.pending, bar.Symbol)

	fills := make([]domain.Fill, 0, len(resting))
	for _, order := range resting {
		price := bar.Open
		if order.Side == domain.OrderSideBuy {
			price += s.slippage * info.PipSize
		} else {
			price -= s.slippage * info.PipSize
		}

		order.Status = domain.OrderStatusFilled
		order.FilledVolume = order.Volume
		order.FilledAvgPrice = price
		order.UpdatedAt = bar.Timestamp

		fills = append(fills, domain.Fill{
			IntentID:  order.IntentID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Volume:    order.Volume,
			Price:     price,
			Timestamp: bar.Timestamp,
		})
		s.armProtection(order)
	}

	if exit := s.checkProtection(bar); exit != nil {
		fills = append(fills, *exit)
	}
	return fills
}

// armProtection installs or clears the per-symbol stop/target after a fill.
// A same-side fill re-arms with the new levels; an opposing fill is a close,
// which disarms.
func (s *Simulator) armProtection(order *domain.Order) {
	existing := s.protect[order.Symbol]
	if existing != nil && existing.side != order.Side {
		delete(s.protect, order.Symbol)
		return
	}
	if order.StopLoss <= 0 && order.TakeProfit <= 0 {
		return
	}
	s.protect[order.Symbol] = &protection{
		side:   order.Side,
		volume: order.Volume,
		stop:   order.StopLoss,
		take:   order.TakeProfit,
	}
}

// checkProtection exits at the stop or target when the bar's range crosses
// it. The stop is checked first: when a bar straddles both levels the worse
// outcome is assumed.
func (s *Simulator) checkProtection(bar domain.Bar) *domain.Fill {
	p := s.protect[bar.Symbol]
	if p == nil {
		return nil
	}

	var price float64
	long := p.side == domain.OrderSideBuy
	switch {
	case long && p.stop > 0 && bar.Low <= p.stop:
		price = p.stop
	case !long && p.stop > 0 && bar.High >= p.stop:
		price = p.stop
	case long && p.take > 0 && bar.High >= p.take:
		price = p.take
	case !long && p.take > 0 && bar.Low <= p.take:
		price = p.take
	default:
		return nil
	}

	delete(s.protect, bar.Symbol)
	s.nextID++
	return &domain.Fill{
		IntentID:  fmt.Sprintf("protective-%d", s.nextID),
		Symbol:    bar.Symbol,
		Side:      p.side.Opposite(),
		Volume:    p.volume,
		Price:     price,
		Timestamp: bar.Timestamp,
	}
}

// GetOrderByClientID returns the order for an intent id, or nil when the
// simulator never saw it.
func (s *Simulator) GetOrderByClientID(_ context.Context, intentID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[intentID]
	if !ok {
		return nil, nil
	}
	cp := *order
	return &cp, nil
}

// GetOpenOrders returns all orders still waiting for a bar.
func (s *Simulator) GetOpenOrders(context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []domain.Order
	for _, resting := range s.pending {
		for _, order := range resting {
			open = append(open, *order)
		}
	}
	return open, nil
}

// ModifyOrder updates the protective prices of a resting order.
func (s *Simulator) ModifyOrder(_ context.Context, brokerOrderID string, stopLoss, takeProfit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.findByBrokerID(brokerOrderID)
	if order == nil || order.Status.Terminal() {
		return fmt.Errorf("order %s not open", brokerOrderID)
	}
	if stopLoss > 0 {
		order.StopLoss = stopLoss
	}
	if takeProfit > 0 {
		order.TakeProfit = takeProfit
	}
	return nil
}

// CancelOrder removes a resting order.
func (s *Simulator) CancelOrder(_ context.Context, brokerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.findByBrokerID(brokerOrderID)
	if order == nil || order.Status.Terminal() {
		return fmt.Errorf("order %s not open", brokerOrderID)
	}
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = time.Now().UTC()

	resting := s.pending[order.Symbol]
	for i, o := range resting {
		if o.IntentID == order.IntentID {
			s.pending[order.Symbol] = append(resting[:i], resting[i+1:]...)
			break
		}
	}
	return nil
}

// GetPositions returns nothing: in backtests the position ledger, not the
// broker, is the book of record.
func (s *Simulator) GetPositions(context.Context) ([]domain.Position, error) {
	return nil, nil
}

// GetAccount returns nothing for the same reason.
func (s *Simulator) GetAccount(context.Context) (*domain.AccountSnapshot, error) {
	return &domain.AccountSnapshot{Timestamp: time.Now().UTC()}, nil
}

func (s *Simulator) findByBrokerID(brokerOrderID string) *domain.Order {
	for _, order := range s.orders {
		if order.BrokerOrderID == brokerOrderID {
			return order
		}
	}
	return nil
}
