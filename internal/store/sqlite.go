package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meridian/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ PositionStore = (*SQLiteStore)(nil)
var _ SnapshotStore = (*SQLiteStore)(nil)

// SQLiteStore implements OrderStore, PositionStore, and SnapshotStore backed
// by a SQLite database. Writes are durable when the call returns.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	intent_id        TEXT PRIMARY KEY,
	broker_order_id  TEXT NOT NULL DEFAULT '',
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	volume           REAL NOT NULL,
	stop_loss        REAL NOT NULL DEFAULT 0,
	take_profit      REAL NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	filled_volume    REAL NOT NULL DEFAULT 0,
	filled_avg_price REAL NOT NULL DEFAULT 0,
	error_detail     TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS positions (
	symbol          TEXT PRIMARY KEY,
	net_volume      REAL NOT NULL,
	avg_entry_price REAL NOT NULL,
	realized_pnl    REAL NOT NULL,
	opened_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS account_snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	equity      REAL NOT NULL,
	balance     REAL NOT NULL,
	margin_used REAL NOT NULL,
	timestamp   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON account_snapshots(timestamp);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema migration, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Durability before acknowledgment: the order manager relies on
	// SaveOrder being on disk before any broker call.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=FULL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts a new order keyed by its intent id.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (
			intent_id, broker_order_id, symbol, side, volume, stop_loss,
			take_profit, status, filled_volume, filled_avg_price,
			error_detail, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.IntentID, order.BrokerOrderID, order.Symbol, string(order.Side),
		order.Volume, order.StopLoss, order.TakeProfit, string(order.Status),
		order.FilledVolume, order.FilledAvgPrice, order.ErrorDetail,
		order.CreatedAt.UnixMilli(), order.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", order.IntentID, err)
	}
	return nil
}

// GetOrder retrieves a single order by its intent id.
func (s *SQLiteStore) GetOrder(ctx context.Context, intentID string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT intent_id, broker_order_id, symbol, side, volume, stop_loss,
		       take_profit, status, filled_volume, filled_avg_price,
		       error_detail, created_at, updated_at
		FROM orders WHERE intent_id = ?`, intentID)
	return scanOrder(row)
}

// ListOrders returns all orders matching the given status.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent_id, broker_order_id, symbol, side, volume, stop_loss,
		       take_profit, status, filled_volume, filled_avg_price,
		       error_detail, created_at, updated_at
		FROM orders WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListOpenOrders returns all orders in non-terminal states.
func (s *SQLiteStore) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent_id, broker_order_id, symbol, side, volume, stop_loss,
		       take_profit, status, filled_volume, filled_avg_price,
		       error_detail, created_at, updated_at
		FROM orders
		WHERE status NOT IN (?, ?, ?)
		ORDER BY created_at`,
		string(domain.OrderStatusFilled),
		string(domain.OrderStatusRejected),
		string(domain.OrderStatusCancelled),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// UpdateOrder persists changes to an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, order *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			broker_order_id = ?, status = ?, filled_volume = ?,
			filled_avg_price = ?, error_detail = ?, updated_at = ?
		WHERE intent_id = ?`,
		order.BrokerOrderID, string(order.Status), order.FilledVolume,
		order.FilledAvgPrice, order.ErrorDetail, order.UpdatedAt.UnixMilli(),
		order.IntentID,
	)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", order.IntentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("updating order %s: %w", order.IntentID, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

// SavePosition inserts or updates a position for a symbol.
func (s *SQLiteStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, net_volume, avg_entry_price, realized_pnl, opened_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			net_volume = excluded.net_volume,
			avg_entry_price = excluded.avg_entry_price,
			realized_pnl = excluded.realized_pnl,
			opened_at = excluded.opened_at`,
		pos.Symbol, pos.NetVolume, pos.AvgEntryPrice, pos.RealizedPnL,
		pos.OpenedAt.UnixMilli(),
	)
	return err
}

// GetPosition retrieves the current position for a symbol.
func (s *SQLiteStore) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, net_volume, avg_entry_price, realized_pnl, opened_at
		FROM positions WHERE symbol = ?`, symbol)

	var (
		pos      domain.Position
		openedAt int64
	)
	err := row.Scan(&pos.Symbol, &pos.NetVolume, &pos.AvgEntryPrice, &pos.RealizedPnL, &openedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pos.OpenedAt = time.UnixMilli(openedAt).UTC()
	return &pos, nil
}

// ListPositions returns all stored positions.
func (s *SQLiteStore) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, net_volume, avg_entry_price, realized_pnl, opened_at
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var (
			pos      domain.Position
			openedAt int64
		)
		if err := rows.Scan(&pos.Symbol, &pos.NetVolume, &pos.AvgEntryPrice, &pos.RealizedPnL, &openedAt); err != nil {
			return nil, err
		}
		pos.OpenedAt = time.UnixMilli(openedAt).UTC()
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// DeletePosition removes the position for a symbol.
func (s *SQLiteStore) DeletePosition(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	return err
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// AppendSnapshot adds one record to the equity curve.
func (s *SQLiteStore) AppendSnapshot(ctx context.Context, snap domain.AccountSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_snapshots (equity, balance, margin_used, timestamp)
		VALUES (?, ?, ?, ?)`,
		snap.Equity, snap.Balance, snap.MarginUsed, snap.Timestamp.UnixMilli(),
	)
	return err
}

// ListSnapshots returns snapshots within [start, end], ordered by timestamp.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, start, end time.Time) ([]domain.AccountSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT equity, balance, margin_used, timestamp
		FROM account_snapshots
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp, id`,
		start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []domain.AccountSnapshot
	for rows.Next() {
		var (
			snap domain.AccountSnapshot
			ts   int64
		)
		if err := rows.Scan(&snap.Equity, &snap.Balance, &snap.MarginUsed, &ts); err != nil {
			return nil, err
		}
		snap.Timestamp = time.UnixMilli(ts).UTC()
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                    domain.Order
		side, status         string
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&o.IntentID, &o.BrokerOrderID, &o.Symbol, &side, &o.Volume,
		&o.StopLoss, &o.TakeProfit, &status, &o.FilledVolume,
		&o.FilledAvgPrice, &o.ErrorDetail, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdAt).UTC()
	o.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
