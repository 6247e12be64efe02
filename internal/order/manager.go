// Package order owns the order lifecycle: durable persistence before any
// network call, submission with timeout reconciliation, broker state
// adoption, and restart recovery. The intent id is the idempotency key for
// every transition.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meridian/internal/broker"
	"meridian/internal/domain"
	"meridian/internal/store"
)

// Manager drives orders through their lifecycle. All submissions are
// serialized: the state machine is simpler to reason about than per-symbol
// locking, and order flow is far below the rate where it would matter.
type Manager struct {
	broker        broker.Broker
	store         store.OrderStore
	submitTimeout time.Duration
	log           *slog.Logger

	mu  sync.Mutex
	now func() time.Time // injectable for tests
}

// NewManager creates a Manager submitting through b and persisting to s.
// submitTimeout bounds each broker submission before reconciliation kicks in.
func NewManager(b broker.Broker, s store.OrderStore, submitTimeout time.Duration) *Manager {
	return &Manager{
		broker:        b,
		store:         s,
		submitTimeout: submitTimeout,
		log:           slog.Default().With("component", "order-manager"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Submit takes a sized intent through creation, durable persistence, and
// broker submission. Resubmitting an intent id that already has an order
// returns that order without touching the broker.
//
// On a submission timeout the broker is queried by client order id before
// anything else happens: if the order exists there, its state is adopted; if
// the broker has no trace, the submission is retried once with the same
// intent id.
func (m *Manager) Submit(ctx context.Context, intent *domain.OrderIntent) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotency: an order already exists for this intent.
	existing, err := m.store.GetOrder(ctx, intent.IntentID)
	if err == nil {
		m.log.Info("intent already has an order", "intent", intent.IntentID, "status", existing.Status)
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking intent %s: %w", intent.IntentID, err)
	}

	now := m.now()
	ord := &domain.Order{
		IntentID:   intent.IntentID,
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Volume:     intent.Volume,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		Status:     domain.OrderStatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// On disk before any network call. A crash after this point leaves a
	// record that Recover can reconcile against the broker.
	if err := m.store.SaveOrder(ctx, ord); err != nil {
		return nil, fmt.Errorf("persisting order %s: %w", intent.IntentID, err)
	}

	if err := m.transition(ctx, ord, domain.OrderStatusSubmitted, ""); err != nil {
		return nil, err
	}

	return m.submitWithReconcile(ctx, ord, intent, true)
}

// submitWithReconcile sends the intent to the broker, reconciling through a
// client-order-id lookup when the outcome is unknown. retryOnNoTrace permits
// exactly one resubmission after a confirmed no-trace timeout.
func (m *Manager) submitWithReconcile(ctx context.Context, ord *domain.Order, intent *domain.OrderIntent, retryOnNoTrace bool) (*domain.Order, error) {
	subCtx, cancel := context.WithTimeout(ctx, m.submitTimeout)
	ack, err := m.broker.SubmitOrder(subCtx, intent)
	cancel()

	switch {
	case err == nil:
		m.adopt(ctx, ord, ack)
		m.log.Info("order acknowledged",
			"intent", ord.IntentID, "broker_id", ord.BrokerOrderID, "status", ord.Status)
		return ord, nil

	case errors.Is(err, domain.ErrRejection):
		if terr := m.transition(ctx, ord, domain.OrderStatusRejected, err.Error()); terr != nil {
			return nil, terr
		}
		m.log.Warn("order rejected", "intent", ord.IntentID, "reason", err)
		return ord, err

	default:
		// Timeout or transport failure: the submission outcome is unknown.
		// Never resubmit before asking the broker what it saw.
		m.log.Warn("submission outcome unknown, reconciling", "intent", ord.IntentID, "err", err)

		remote, lerr := m.broker.GetOrderByClientID(ctx, ord.IntentID)
		if lerr != nil {
			// Can't even reconcile. Leave the order in Submitted; Recover
			// picks it up on the next boot or reconnect.
			return ord, &domain.ConnectionError{Op: "submit reconcile", Err: lerr}
		}
		if remote != nil {
			// The order made it through; the acknowledgement was lost.
			m.adopt(ctx, ord, remote)
			m.log.Info("adopted order after lost acknowledgement",
				"intent", ord.IntentID, "broker_id", ord.BrokerOrderID, "status", ord.Status)
			return ord, nil
		}
		if retryOnNoTrace {
			m.log.Info("broker has no trace, resubmitting", "intent", ord.IntentID)
			return m.submitWithReconcile(ctx, ord, intent, false)
		}
		return ord, &domain.ConnectionError{Op: "submit", Err: err}
	}
}

// ApplyUpdate merges a broker-side order state into the local record. It
// returns a Fill for any newly filled volume, or nil when nothing was filled
// since the last update. Terminal local states are never overwritten.
func (m *Manager) ApplyUpdate(ctx context.Context, remote *domain.Order) (*domain.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	local, err := m.store.GetOrder(ctx, remote.IntentID)
	if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", remote.IntentID, err)
	}
	if local.Status.Terminal() {
		return nil, nil
	}

	delta := remote.FilledVolume - local.FilledVolume

	local.BrokerOrderID = remote.BrokerOrderID
	local.Status = remote.Status
	local.FilledVolume = remote.FilledVolume
	local.FilledAvgPrice = remote.FilledAvgPrice
	local.UpdatedAt = m.now()
	if err := m.store.UpdateOrder(ctx, local); err != nil {
		return nil, fmt.Errorf("updating order %s: %w", local.IntentID, err)
	}

	if delta <= 0 {
		return nil, nil
	}
	return &domain.Fill{
		IntentID:  local.IntentID,
		Symbol:    local.Symbol,
		Side:      local.Side,
		Volume:    delta,
		Price:     remote.FilledAvgPrice,
		Timestamp: local.UpdatedAt,
	}, nil
}

// Cancel requests cancellation of a non-terminal order.
func (m *Manager) Cancel(ctx context.Context, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ord, err := m.store.GetOrder(ctx, intentID)
	if err != nil {
		return fmt.Errorf("loading order %s: %w", intentID, err)
	}
	if ord.Status.Terminal() {
		return fmt.Errorf("order %s is %s, cannot cancel", intentID, ord.Status)
	}
	if ord.BrokerOrderID == "" {
		// Never reached the broker; cancel locally.
		return m.transition(ctx, ord, domain.OrderStatusCancelled, "cancelled before submission")
	}
	if err := m.broker.CancelOrder(ctx, ord.BrokerOrderID); err != nil {
		return err
	}
	return m.transition(ctx, ord, domain.OrderStatusCancelled, "")
}

// Modify adjusts the protective prices of a non-terminal order.
func (m *Manager) Modify(ctx context.Context, intentID string, stopLoss, takeProfit float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ord, err := m.store.GetOrder(ctx, intentID)
	if err != nil {
		return fmt.Errorf("loading order %s: %w", intentID, err)
	}
	if ord.Status.Terminal() {
		return fmt.Errorf("order %s is %s, cannot modify", intentID, ord.Status)
	}
	if ord.BrokerOrderID == "" {
		return fmt.Errorf("order %s has no broker id yet", intentID)
	}
	if err := m.broker.ModifyOrder(ctx, ord.BrokerOrderID, stopLoss, takeProfit); err != nil {
		return err
	}

	if stopLoss > 0 {
		ord.StopLoss = stopLoss
	}
	if takeProfit > 0 {
		ord.TakeProfit = takeProfit
	}
	ord.UpdatedAt = m.now()
	return m.store.UpdateOrder(ctx, ord)
}

// Recover reconciles every locally open order against the broker after a
// restart. Orders the broker acknowledged are adopted with their broker-side
// state. Orders that never left the process (Created, or Submitted with no
// broker trace) are discarded: their signals are stale. A locally
// acknowledged order the broker cannot find is a conflict; it is never
// silently resolved.
func (m *Manager) Recover(ctx context.Context) ([]domain.Order, []domain.ReconciliationConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, err := m.store.ListOpenOrders(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing open orders: %w", err)
	}

	var (
		adopted   []domain.Order
		conflicts []domain.ReconciliationConflict
	)
	for i := range open {
		ord := &open[i]

		remote, err := m.broker.GetOrderByClientID(ctx, ord.IntentID)
		if err != nil {
			return adopted, conflicts, fmt.Errorf("reconciling order %s: %w", ord.IntentID, err)
		}

		switch {
		case remote != nil:
			m.adopt(ctx, ord, remote)
			adopted = append(adopted, *ord)
			m.log.Info("recovered order",
				"intent", ord.IntentID, "broker_id", ord.BrokerOrderID, "status", ord.Status)

		case ord.Status == domain.OrderStatusCreated || ord.Status == domain.OrderStatusSubmitted:
			// Never reached the broker. The triggering signal is stale, so
			// the intent is dropped rather than resubmitted.
			if err := m.transition(ctx, ord, domain.OrderStatusCancelled, "discarded on recovery: no broker trace"); err != nil {
				return adopted, conflicts, err
			}
			m.log.Info("discarded unsubmitted order", "intent", ord.IntentID)

		default:
			// Local state says the broker acknowledged this order, but the
			// broker has no record of it. Freeze the symbol upstream.
			conflicts = append(conflicts, domain.ReconciliationConflict{
				Symbol:   ord.Symbol,
				IntentID: ord.IntentID,
				Detail:   fmt.Sprintf("locally %s but broker has no trace", ord.Status),
			})
			m.log.Error("reconciliation conflict",
				"intent", ord.IntentID, "symbol", ord.Symbol, "local_status", ord.Status)
		}
	}
	return adopted, conflicts, nil
}

// adopt copies broker-side state into the local record and persists it.
// Persistence failures are logged, not returned: the broker state is already
// authoritative and the next update will retry.
func (m *Manager) adopt(ctx context.Context, ord *domain.Order, remote *domain.Order) {
	ord.BrokerOrderID = remote.BrokerOrderID
	ord.Status = remote.Status
	ord.FilledVolume = remote.FilledVolume
	ord.FilledAvgPrice = remote.FilledAvgPrice
	ord.UpdatedAt = m.now()
	if err := m.store.UpdateOrder(ctx, ord); err != nil {
		m.log.Error("persisting adopted state", "intent", ord.IntentID, "err", err)
	}
}

// transition moves an order to a new status and persists it.
func (m *Manager) transition(ctx context.Context, ord *domain.Order, status domain.OrderStatus, detail string) error {
	ord.Status = status
	if detail != "" {
		ord.ErrorDetail = detail
	}
	ord.UpdatedAt = m.now()
	if err := m.store.UpdateOrder(ctx, ord); err != nil {
		return fmt.Errorf("transitioning order %s to %s: %w", ord.IntentID, status, err)
	}
	return nil
}
