package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"meridian/internal/domain"
)

// Compile-time interface checks.
var _ Broker = (*AlpacaBroker)(nil)
var _ BarSource = (*AlpacaBroker)(nil)

// AlpacaBroker implements Broker and BarSource against the Alpaca trading and
// market-data APIs. The intent id is sent as the Alpaca client order id, which
// makes submission idempotent: a resubmit of the same intent id is rejected by
// the API, and a lost acknowledgement can be recovered by client-order-id
// lookup.
type AlpacaBroker struct {
	trading *alpaca.Client
	data    *marketdata.Client
}

// NewAlpacaBroker creates an AlpacaBroker from credentials and endpoints.
// baseURL selects paper or live trading; dataURL may be empty for the default
// market-data host.
func NewAlpacaBroker(apiKey, apiSecret, baseURL, dataURL string) *AlpacaBroker {
	dataOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		dataOpts.BaseURL = dataURL
	}

	return &AlpacaBroker{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(dataOpts),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// Connect verifies credentials with an account query.
func (b *AlpacaBroker) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.trading.GetAccount(); err != nil {
		return &domain.ConnectionError{Op: "connect", Err: err}
	}
	return nil
}

// Close is a no-op: the underlying clients are stateless HTTP clients.
func (b *AlpacaBroker) Close() error { return nil }

// SubmitOrder places a market order carrying the intent id as the client
// order id. Stops and targets ride along as bracket legs when present.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, intent *domain.OrderIntent) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qty := decimal.NewFromFloat(intent.Volume)
	req := alpaca.PlaceOrderRequest{
		Symbol:        intent.Symbol,
		Qty:           &qty,
		Side:          alpacaSide(intent.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.GTC,
		ClientOrderID: intent.IntentID,
	}
	if intent.StopLoss > 0 {
		sl := decimal.NewFromFloat(intent.StopLoss)
		req.StopLoss = &alpaca.StopLoss{StopPrice: &sl}
	}
	if intent.TakeProfit > 0 {
		tp := decimal.NewFromFloat(intent.TakeProfit)
		req.TakeProfit = &alpaca.TakeProfit{LimitPrice: &tp}
	}
	if req.StopLoss != nil && req.TakeProfit != nil {
		req.OrderClass = alpaca.Bracket
	} else if req.StopLoss != nil || req.TakeProfit != nil {
		req.OrderClass = alpaca.OTO
	}

	ao, err := b.trading.PlaceOrder(req)
	if err != nil {
		if reason, rejected := rejectionReason(err); rejected {
			return nil, &domain.RejectionError{IntentID: intent.IntentID, Reason: reason}
		}
		return nil, &domain.ConnectionError{Op: "submit order", Err: err}
	}
	return translateOrder(ao), nil
}

// GetOrderByClientID looks up an order by the intent id it was submitted
// with. A 404 from the API means the broker never saw the intent; that is
// reported as (nil, nil) so the caller can distinguish "no trace" from a
// transport failure.
func (b *AlpacaBroker) GetOrderByClientID(ctx context.Context, intentID string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ao, err := b.trading.GetOrderByClientOrderID(intentID)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, &domain.ConnectionError{Op: "get order by client id", Err: err}
	}
	return translateOrder(ao), nil
}

// GetOpenOrders returns all non-terminal orders at the broker.
func (b *AlpacaBroker) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	aos, err := b.trading.GetOrders(alpaca.GetOrdersRequest{
		Status: "open",
		Limit:  500,
	})
	if err != nil {
		return nil, &domain.ConnectionError{Op: "get open orders", Err: err}
	}

	orders := make([]domain.Order, 0, len(aos))
	for i := range aos {
		orders = append(orders, *translateOrder(&aos[i]))
	}
	return orders, nil
}

// ModifyOrder replaces the protective prices of an open order.
func (b *AlpacaBroker) ModifyOrder(ctx context.Context, brokerOrderID string, stopLoss, takeProfit float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := alpaca.ReplaceOrderRequest{}
	if stopLoss > 0 {
		sl := decimal.NewFromFloat(stopLoss)
		req.StopPrice = &sl
	}
	if takeProfit > 0 {
		tp := decimal.NewFromFloat(takeProfit)
		req.LimitPrice = &tp
	}

	if _, err := b.trading.ReplaceOrder(brokerOrderID, req); err != nil {
		return &domain.ConnectionError{Op: "modify order", Err: err}
	}
	return nil
}

// CancelOrder requests cancellation of an open order.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.trading.CancelOrder(brokerOrderID); err != nil {
		return &domain.ConnectionError{Op: "cancel order", Err: err}
	}
	return nil
}

// GetPositions returns the broker's open positions in our signed net-volume
// convention.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	aps, err := b.trading.GetPositions()
	if err != nil {
		return nil, &domain.ConnectionError{Op: "get positions", Err: err}
	}

	positions := make([]domain.Position, 0, len(aps))
	for _, ap := range aps {
		qty := ap.Qty.InexactFloat64()
		if strings.EqualFold(ap.Side, "short") && qty > 0 {
			qty = -qty
		}
		pos := domain.Position{
			Symbol:        strings.ToUpper(ap.Symbol),
			NetVolume:     qty,
			AvgEntryPrice: ap.AvgEntryPrice.InexactFloat64(),
		}
		if ap.UnrealizedPL != nil {
			pos.UnrealizedPnL = ap.UnrealizedPL.InexactFloat64()
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetAccount returns the broker's view of the account.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acct, err := b.trading.GetAccount()
	if err != nil {
		return nil, &domain.ConnectionError{Op: "get account", Err: err}
	}

	return &domain.AccountSnapshot{
		Equity:     acct.Equity.InexactFloat64(),
		Balance:    acct.Cash.InexactFloat64(),
		MarginUsed: acct.InitialMargin.InexactFloat64(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// GetBars fetches historical bars for one symbol from the market-data API.
func (b *AlpacaBroker) GetBars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abars, err := b.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: alpacaTimeframe(tf),
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, &domain.ConnectionError{Op: "get bars", Err: err}
	}

	bars := make([]domain.Bar, 0, len(abars))
	for i, ab := range abars {
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: ab.Timestamp,
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
			Seq:       int64(i),
		})
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Translation helpers
// ---------------------------------------------------------------------------

func alpacaSide(side domain.OrderSide) alpaca.Side {
	if side == domain.OrderSideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func alpacaTimeframe(tf domain.Timeframe) marketdata.TimeFrame {
	switch tf {
	case domain.TimeframeM1:
		return marketdata.OneMin
	case domain.TimeframeM5:
		return marketdata.NewTimeFrame(5, marketdata.Min)
	case domain.TimeframeM15:
		return marketdata.NewTimeFrame(15, marketdata.Min)
	case domain.TimeframeH1:
		return marketdata.OneHour
	default:
		return marketdata.OneDay
	}
}

// translateOrder maps an Alpaca order onto our lifecycle record. The Alpaca
// client order id carries the intent id.
func translateOrder(ao *alpaca.Order) *domain.Order {
	o := &domain.Order{
		IntentID:      ao.ClientOrderID,
		BrokerOrderID: ao.ID,
		Symbol:        strings.ToUpper(ao.Symbol),
		Side:          domain.OrderSide(ao.Side),
		Status:        translateStatus(ao.Status),
		CreatedAt:     ao.CreatedAt,
		UpdatedAt:     ao.UpdatedAt,
	}
	if ao.Qty != nil {
		o.Volume = ao.Qty.InexactFloat64()
	}
	o.FilledVolume = ao.FilledQty.InexactFloat64()
	if ao.FilledAvgPrice != nil {
		o.FilledAvgPrice = ao.FilledAvgPrice.InexactFloat64()
	}
	return o
}

func translateStatus(status string) domain.OrderStatus {
	switch status {
	case "new", "accepted", "pending_new", "accepted_for_bidding", "held":
		return domain.OrderStatusAcknowledged
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled":
		return domain.OrderStatusFilled
	case "rejected", "suspended", "stopped":
		return domain.OrderStatusRejected
	case "canceled", "pending_cancel", "expired", "done_for_day", "replaced":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusSubmitted
	}
}

// rejectionReason inspects an API error for an order-rejection response
// (HTTP 403 insufficient buying power or 422 unprocessable order).
func rejectionReason(err error) (string, bool) {
	var apiErr *alpaca.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	switch apiErr.StatusCode {
	case http.StatusForbidden, http.StatusUnprocessableEntity:
		return fmt.Sprintf("api status %d: %s", apiErr.StatusCode, apiErr.Message), true
	default:
		return "", false
	}
}
