// Package ledger persists Orders and Trades observed from the broker Port
// into the local sqlite-backed store, giving the control plane a durable
// history independent of the Supervisor's in-memory model.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiteflow/trader/internal/database/repositories"
	"github.com/kiteflow/trader/internal/domain"
)

// Repository is the sqlite-backed Order/Trade store.
type Repository struct {
	*repositories.BaseRepository
}

// New constructs a Repository over db.
func New(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{BaseRepository: repositories.NewBase(db, log.With().Str("repo", "ledger").Logger())}
}

// UpsertOrder inserts or updates an order row keyed by broker_order_id.
func (r *Repository) UpsertOrder(order domain.Order) error {
	_, err := r.DB().Exec(`
		INSERT INTO orders (broker_order_id, exchange, trading_symbol, side, quantity, order_type, price, stop_loss, take_profit, product, validity, status, filled_qty, avg_fill_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(broker_order_id) DO UPDATE SET
			status = excluded.status,
			filled_qty = excluded.filled_qty,
			avg_fill_price = excluded.avg_fill_price,
			updated_at = excluded.updated_at
	`,
		order.BrokerOrderID, order.Intent.Instrument.Exchange, order.Intent.Instrument.TradingSymbol,
		order.Intent.Side, order.Intent.Quantity, order.Intent.OrderType, order.Intent.Price,
		order.Intent.StopLoss, order.Intent.TakeProfit, order.Intent.Product, order.Intent.Validity,
		order.Status, order.FilledQty, order.AvgFillPrice,
		order.CreatedAt.Format(time.RFC3339Nano), order.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ledger: upsert order: %w", err)
	}
	return nil
}

// InsertTrade appends an immutable fill record.
func (r *Repository) InsertTrade(trade domain.Trade) error {
	_, err := r.DB().Exec(`
		INSERT INTO trades (exchange, trading_symbol, side, quantity, price, fees, order_id, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		trade.Instrument.Exchange, trade.Instrument.TradingSymbol, trade.Side, trade.Quantity,
		trade.Price, trade.Fees, trade.OrderID, trade.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert trade: %w", err)
	}
	return nil
}

// RecentOrders returns the most recently updated orders, up to limit.
func (r *Repository) RecentOrders(limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB().Query(`
		SELECT broker_order_id, exchange, trading_symbol, side, quantity, order_type, price, stop_loss, take_profit, product, validity, status, filled_qty, avg_fill_price, created_at, updated_at
		FROM orders ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

// TradesSince returns trades executed after `since` (or all trades if nil),
// newest first, up to limit.
func (r *Repository) TradesSince(since *time.Time, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows *sql.Rows
	var err error
	if since != nil {
		rows, err = r.DB().Query(`
			SELECT exchange, trading_symbol, side, quantity, price, fees, order_id, executed_at
			FROM trades WHERE executed_at > ? ORDER BY executed_at DESC LIMIT ?
		`, since.Format(time.RFC3339Nano), limit)
	} else {
		rows, err = r.DB().Query(`
			SELECT exchange, trading_symbol, side, quantity, price, fees, order_id, executed_at
			FROM trades ORDER BY executed_at DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: query trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var executedAt string
		if err := rows.Scan(&t.Instrument.Exchange, &t.Instrument.TradingSymbol, &t.Side, &t.Quantity, &t.Price, &t.Fees, &t.OrderID, &executedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan trade: %w", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, executedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TradeCountToday returns the number of trades executed since local midnight.
func (r *Repository) TradeCountToday() (int, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var count int
	err := r.DB().QueryRow(`SELECT COUNT(*) FROM trades WHERE executed_at >= ?`, midnight.Format(time.RFC3339Nano)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ledger: count trades today: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(rows rowScanner) (domain.Order, error) {
	var o domain.Order
	var createdAt, updatedAt string
	err := rows.Scan(
		&o.BrokerOrderID, &o.Intent.Instrument.Exchange, &o.Intent.Instrument.TradingSymbol,
		&o.Intent.Side, &o.Intent.Quantity, &o.Intent.OrderType, &o.Intent.Price,
		&o.Intent.StopLoss, &o.Intent.TakeProfit, &o.Intent.Product, &o.Intent.Validity,
		&o.Status, &o.FilledQty, &o.AvgFillPrice, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("ledger: scan order: %w", err)
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return o, nil
}
