// Package store provides durable, keyed persistence for positions,
// orders, and trades, backed by an embedded SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/atlas-desktop/arb-engine/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	token_id        TEXT PRIMARY KEY,
	market_id       TEXT NOT NULL,
	size            TEXT NOT NULL,
	avg_entry_price TEXT NOT NULL,
	current_price   TEXT NOT NULL,
	unrealized_pnl  TEXT NOT NULL,
	realized_pnl    TEXT NOT NULL,
	side            TEXT NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	order_id       TEXT PRIMARY KEY,
	token_id       TEXT NOT NULL,
	side           TEXT NOT NULL,
	price          TEXT NOT NULL,
	size           TEXT NOT NULL,
	type           TEXT NOT NULL,
	expiration     INTEGER,
	status         TEXT NOT NULL,
	filled_size    TEXT NOT NULL,
	avg_fill_price TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	order_id    TEXT NOT NULL,
	token_id    TEXT NOT NULL,
	side        TEXT NOT NULL,
	price       TEXT NOT NULL,
	size        TEXT NOT NULL,
	executed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_token ON trades(token_id);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
`

// Store is durable keyed storage for positions, orders, and trades.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and
// applies the schema. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePosition upserts p keyed on TokenID.
func (s *Store) SavePosition(p types.Position) error {
	_, err := s.db.Exec(`
		INSERT INTO positions (token_id, market_id, size, avg_entry_price, current_price, unrealized_pnl, realized_pnl, side, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET
			market_id=excluded.market_id, size=excluded.size, avg_entry_price=excluded.avg_entry_price,
			current_price=excluded.current_price, unrealized_pnl=excluded.unrealized_pnl,
			realized_pnl=excluded.realized_pnl, side=excluded.side, updated_at=excluded.updated_at
	`, p.TokenID, p.MarketID, p.Size.String(), p.AvgEntryPrice.String(), p.CurrentPrice.String(),
		p.UnrealizedPnL.String(), p.RealizedPnL.String(), string(p.Side), p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save position: %w", err)
	}
	return nil
}

// GetPosition returns the stored position for tokenID, if any.
func (s *Store) GetPosition(tokenID string) (types.Position, bool, error) {
	row := s.db.QueryRow(`
		SELECT token_id, market_id, size, avg_entry_price, current_price, unrealized_pnl, realized_pnl, side, updated_at
		FROM positions WHERE token_id = ?`, tokenID)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return types.Position{}, false, nil
	}
	if err != nil {
		return types.Position{}, false, fmt.Errorf("store: get position: %w", err)
	}
	return p, true, nil
}

// GetAllActivePositions returns every position whose size is non-zero.
func (s *Store) GetAllActivePositions() ([]types.Position, error) {
	rows, err := s.db.Query(`
		SELECT token_id, market_id, size, avg_entry_price, current_price, unrealized_pnl, realized_pnl, side, updated_at
		FROM positions WHERE size != '0'`)
	if err != nil {
		return nil, fmt.Errorf("store: get active positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan position: %w", err)
		}
		if !p.Size.IsZero() {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (types.Position, error) {
	var (
		p                                                        types.Position
		size, avgEntry, current, unrealized, realized, side      string
		updatedAtMillis                                          int64
	)
	if err := row.Scan(&p.TokenID, &p.MarketID, &size, &avgEntry, &current, &unrealized, &realized, &side, &updatedAtMillis); err != nil {
		return types.Position{}, err
	}
	p.Size = mustDecimal(size)
	p.AvgEntryPrice = mustDecimal(avgEntry)
	p.CurrentPrice = mustDecimal(current)
	p.UnrealizedPnL = mustDecimal(unrealized)
	p.RealizedPnL = mustDecimal(realized)
	p.Side = types.Side(side)
	p.UpdatedAt = time.UnixMilli(updatedAtMillis)
	return p, nil
}

// SaveOrder upserts o keyed on OrderID.
func (s *Store) SaveOrder(o types.OrderRecord) error {
	var expiration any
	if o.Expiration != nil {
		expiration = o.Expiration.UnixMilli()
	}
	_, err := s.db.Exec(`
		INSERT INTO orders (order_id, token_id, side, price, size, type, expiration, status, filled_size, avg_fill_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			token_id=excluded.token_id, side=excluded.side, price=excluded.price, size=excluded.size,
			type=excluded.type, expiration=excluded.expiration, status=excluded.status,
			filled_size=excluded.filled_size, avg_fill_price=excluded.avg_fill_price, updated_at=excluded.updated_at
	`, o.OrderID, o.TokenID, string(o.Side), o.Price.String(), o.Size.String(), string(o.Type), expiration,
		string(o.Status), o.FilledSize.String(), o.AvgFillPrice.String(), o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save order: %w", err)
	}
	return nil
}

// UpdateOrderStatus transitions order orderID to status.
func (s *Store) UpdateOrderStatus(orderID string, status types.OrderStatus) error {
	_, err := s.db.Exec(`UPDATE orders SET status = ?, updated_at = ? WHERE order_id = ?`,
		string(status), time.Now().UnixMilli(), orderID)
	if err != nil {
		return fmt.Errorf("store: update order status: %w", err)
	}
	return nil
}

// GetOpenOrders returns every order whose status is pending or open.
func (s *Store) GetOpenOrders() ([]types.OrderRecord, error) {
	rows, err := s.db.Query(`
		SELECT order_id, token_id, side, price, size, type, expiration, status, filled_size, avg_fill_price, created_at, updated_at
		FROM orders WHERE status IN ('pending', 'open')`)
	if err != nil {
		return nil, fmt.Errorf("store: get open orders: %w", err)
	}
	defer rows.Close()

	var out []types.OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row rowScanner) (types.OrderRecord, error) {
	var (
		o                                     types.OrderRecord
		side, price, size, typ, status        string
		filledSize, avgFillPrice              string
		expiration                            sql.NullInt64
		createdAtMillis, updatedAtMillis      int64
	)
	if err := row.Scan(&o.OrderID, &o.TokenID, &side, &price, &size, &typ, &expiration, &status,
		&filledSize, &avgFillPrice, &createdAtMillis, &updatedAtMillis); err != nil {
		return types.OrderRecord{}, err
	}
	o.Side = types.Side(side)
	o.Price = mustDecimal(price)
	o.Size = mustDecimal(size)
	o.Type = types.OrderType(typ)
	if expiration.Valid {
		t := time.UnixMilli(expiration.Int64)
		o.Expiration = &t
	}
	o.Status = types.OrderStatus(status)
	o.FilledSize = mustDecimal(filledSize)
	o.AvgFillPrice = mustDecimal(avgFillPrice)
	o.CreatedAt = time.UnixMilli(createdAtMillis)
	o.UpdatedAt = time.UnixMilli(updatedAtMillis)
	return o, nil
}

// SaveTrade upserts t keyed on ID.
func (s *Store) SaveTrade(t types.Trade) error {
	_, err := s.db.Exec(`
		INSERT INTO trades (id, order_id, token_id, side, price, size, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			order_id=excluded.order_id, token_id=excluded.token_id, side=excluded.side,
			price=excluded.price, size=excluded.size, executed_at=excluded.executed_at
	`, t.ID, t.OrderID, t.TokenID, string(t.Side), t.Price.String(), t.Size.String(), t.ExecutedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save trade: %w", err)
	}
	return nil
}

// GetTrades returns the newest trades first, optionally filtered to one
// token, capped at limit (0 means unlimited).
func (s *Store) GetTrades(tokenID string, limit int) ([]types.Trade, error) {
	query := `SELECT id, order_id, token_id, side, price, size, executed_at FROM trades`
	args := []any{}
	if tokenID != "" {
		query += ` WHERE token_id = ?`
		args = append(args, tokenID)
	}
	query += ` ORDER BY executed_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var (
			t                types.Trade
			side, price, size string
			executedAtMillis int64
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.TokenID, &side, &price, &size, &executedAtMillis); err != nil {
			return nil, fmt.Errorf("store: scan trade: %w", err)
		}
		t.Side = types.Side(side)
		t.Price = mustDecimal(price)
		t.Size = mustDecimal(size)
		t.ExecutedAt = time.UnixMilli(executedAtMillis)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetDailyPnL returns the sum over trades matched on date d of
// (sell_notional - buy_notional): buys contribute negatively, sells
// positively.
func (s *Store) GetDailyPnL(d time.Time) (decimal.Decimal, error) {
	dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	trades, err := s.tradesBetween(dayStart, dayEnd)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, t := range trades {
		notional := t.Notional()
		if t.Side == types.SideBuy {
			total = total.Sub(notional)
		} else {
			total = total.Add(notional)
		}
	}
	return total, nil
}

func (s *Store) tradesBetween(start, end time.Time) ([]types.Trade, error) {
	rows, err := s.db.Query(`
		SELECT id, order_id, token_id, side, price, size, executed_at FROM trades
		WHERE executed_at >= ? AND executed_at < ?`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: get daily trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var (
			t                types.Trade
			side, price, size string
			executedAtMillis int64
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.TokenID, &side, &price, &size, &executedAtMillis); err != nil {
			return nil, fmt.Errorf("store: scan trade: %w", err)
		}
		t.Side = types.Side(side)
		t.Price = mustDecimal(price)
		t.Size = mustDecimal(size)
		t.ExecutedAt = time.UnixMilli(executedAtMillis)
		out = append(out, t)
	}
	return out, rows.Err()
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
