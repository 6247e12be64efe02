// Package httpapi provides a read-only HTTP REST API over the trading
// store, serving the order history, open positions, and equity curve in
// JSON format.
package httpapi

// OrderJSON is the JSON representation of a persisted order.
type OrderJSON struct {
	IntentID       string  `json:"intentId"`
	BrokerOrderID  string  `json:"brokerOrderId,omitempty"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Volume         float64 `json:"volume"`
	StopLoss       float64 `json:"stopLoss,omitempty"`
	TakeProfit     float64 `json:"takeProfit,omitempty"`
	Status         string  `json:"status"`
	FilledVolume   float64 `json:"filledVolume"`
	FilledAvgPrice float64 `json:"filledAvgPrice,omitempty"`
	ErrorDetail    string  `json:"errorDetail,omitempty"`
	CreatedAt      int64   `json:"createdAt"`
	UpdatedAt      int64   `json:"updatedAt"`
}

// OrdersResponse wraps a list of orders.
type OrdersResponse struct {
	Count  int         `json:"count"`
	Orders []OrderJSON `json:"orders"`
}

// PositionJSON is the JSON representation of an open position.
type PositionJSON struct {
	Symbol        string  `json:"symbol"`
	NetVolume     float64 `json:"netVolume"`
	AvgEntryPrice float64 `json:"avgEntryPrice"`
	RealizedPnL   float64 `json:"realizedPnl"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	OpenedAt      int64   `json:"openedAt"`
}

// PositionsResponse wraps the current position list.
type PositionsResponse struct {
	Count     int            `json:"count"`
	Positions []PositionJSON `json:"positions"`
}

// SnapshotJSON is one point on the account equity curve.
type SnapshotJSON struct {
	Timestamp  int64   `json:"timestamp"`
	Equity     float64 `json:"equity"`
	Balance    float64 `json:"balance"`
	MarginUsed float64 `json:"marginUsed"`
}

// EquityResponse wraps a slice of the equity curve.
type EquityResponse struct {
	Count     int            `json:"count"`
	Snapshots []SnapshotJSON `json:"snapshots"`
}
