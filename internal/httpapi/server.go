package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"meridian/internal/domain"
	"meridian/internal/store"
)

// Server serves the trading status HTTP API. All endpoints are read-only:
// mutations go through the order manager, never through HTTP.
type Server struct {
	orders    store.OrderStore
	positions store.PositionStore
	snapshots store.SnapshotStore
	log       *slog.Logger
}

// NewServer creates a status API server backed by the given stores.
func NewServer(orders store.OrderStore, positions store.PositionStore, snapshots store.SnapshotStore, log *slog.Logger) *Server {
	return &Server{
		orders:    orders,
		positions: positions,
		snapshots: snapshots,
		log:       log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleOrder)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/equity", s.handleEquity)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// validStatuses are the values accepted by the "status" query param.
var validStatuses = map[string]domain.OrderStatus{
	"created":          domain.OrderStatusCreated,
	"submitted":        domain.OrderStatusSubmitted,
	"acknowledged":     domain.OrderStatusAcknowledged,
	"partially_filled": domain.OrderStatusPartiallyFilled,
	"filled":           domain.OrderStatusFilled,
	"rejected":         domain.OrderStatusRejected,
	"cancelled":        domain.OrderStatusCancelled,
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []domain.Order
		err    error
	)
	if q := r.URL.Query().Get("status"); q != "" {
		status, ok := validStatuses[strings.ToLower(q)]
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", q))
			return
		}
		orders, err = s.orders.ListOrders(r.Context(), status)
	} else {
		orders, err = s.orders.ListOpenOrders(r.Context())
	}
	if err != nil {
		s.log.Error("listing orders", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	out := make([]OrderJSON, 0, len(orders))
	for i := range orders {
		out = append(out, convertOrder(&orders[i]))
	}
	writeJSON(w, OrdersResponse{Count: len(out), Orders: out})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("order %s not found", id))
			return
		}
		s.log.Error("loading order", "intent_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	writeJSON(w, convertOrder(order))
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.positions.ListPositions(r.Context())
	if err != nil {
		s.log.Error("listing positions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	out := make([]PositionJSON, 0, len(positions))
	for i := range positions {
		p := &positions[i]
		out = append(out, PositionJSON{
			Symbol:        p.Symbol,
			NetVolume:     p.NetVolume,
			AvgEntryPrice: p.AvgEntryPrice,
			RealizedPnL:   p.RealizedPnL,
			UnrealizedPnL: p.UnrealizedPnL,
			OpenedAt:      p.OpenedAt.UnixMilli(),
		})
	}
	writeJSON(w, PositionsResponse{Count: len(out), Positions: out})
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snaps, err := s.snapshots.ListSnapshots(r.Context(), start, end)
	if err != nil {
		s.log.Error("listing snapshots", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}

	out := make([]SnapshotJSON, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, SnapshotJSON{
			Timestamp:  snap.Timestamp.UnixMilli(),
			Equity:     snap.Equity,
			Balance:    snap.Balance,
			MarginUsed: snap.MarginUsed,
		})
	}
	writeJSON(w, EquityResponse{Count: len(out), Snapshots: out})
}

// parseRange extracts the [start, end] window from the "start" and "end"
// query params (RFC 3339). Defaults to the trailing 24 hours.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start %q: use RFC 3339", v)
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end %q: use RFC 3339", v)
		}
		end = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end precedes start")
	}
	return start, end, nil
}

func convertOrder(o *domain.Order) OrderJSON {
	return OrderJSON{
		IntentID:       o.IntentID,
		BrokerOrderID:  o.BrokerOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Volume:         o.Volume,
		StopLoss:       o.StopLoss,
		TakeProfit:     o.TakeProfit,
		Status:         string(o.Status),
		FilledVolume:   o.FilledVolume,
		FilledAvgPrice: o.FilledAvgPrice,
		ErrorDetail:    o.ErrorDetail,
		CreatedAt:      o.CreatedAt.UnixMilli(),
		UpdatedAt:      o.UpdatedAt.UnixMilli(),
	}
}
