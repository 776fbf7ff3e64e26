package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paper-broker/internal/model"
)

// querier 同时覆盖 *sql.DB 与 *sql.Tx，使读取逻辑可在事务内外复用。
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func decString(d decimal.Decimal) string {
	return d.String()
}

// nullDecimal 把零值可选价格映射为 NULL。
func nullDecimal(d decimal.Decimal) interface{} {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func scanDecimal(s sql.NullString) (decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s.String)
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

func (e *Engine) insertWallet(ctx context.Context, w *model.Wallet) error {
	_, err := e.store.DB().ExecContext(ctx, `
INSERT INTO wallets (id, name, capital_tier, initial_balance, current_balance, reserved_balance, halted, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID.String(), w.Name, w.CapitalTier,
		decString(w.InitialBalance), decString(w.CurrentBalance), decString(w.ReservedBalance),
		w.Halted, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("engine: 写入钱包失败: %w", err)
	}
	return nil
}

const walletColumns = `id, name, capital_tier, initial_balance, current_balance, reserved_balance, halted, created_at, updated_at`

func scanWallet(row *sql.Row) (*model.Wallet, error) {
	var w model.Wallet
	var id string
	var initial, current, reserved string
	if err := row.Scan(&id, &w.Name, &w.CapitalTier, &initial, &current, &reserved, &w.Halted, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if w.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if w.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return nil, err
	}
	if w.CurrentBalance, err = decimal.NewFromString(current); err != nil {
		return nil, err
	}
	if w.ReservedBalance, err = decimal.NewFromString(reserved); err != nil {
		return nil, err
	}
	return &w, nil
}

func (e *Engine) getWallet(ctx context.Context, q querier, walletID uuid.UUID) (*model.Wallet, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = ?`, walletID.String())
	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("engine: 查询钱包失败: %w", err)
	}
	return w, nil
}

func (e *Engine) getWalletByName(ctx context.Context, name string) (*model.Wallet, error) {
	row := e.store.DB().QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE name = ?`, name)
	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("engine: 查询钱包失败: %w", err)
	}
	return w, nil
}

// ListWallets 返回全部钱包，按创建时间升序。
func (e *Engine) ListWallets(ctx context.Context) ([]*model.Wallet, error) {
	rows, err := e.store.DB().QueryContext(ctx,
		`SELECT `+walletColumns+` FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("engine: 查询钱包列表失败: %w", err)
	}
	defer rows.Close()

	var out []*model.Wallet
	for rows.Next() {
		var w model.Wallet
		var id, initial, current, reserved string
		if err := rows.Scan(&id, &w.Name, &w.CapitalTier, &initial, &current, &reserved, &w.Halted, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("engine: 读取钱包失败: %w", err)
		}
		if w.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if w.InitialBalance, err = decimal.NewFromString(initial); err != nil {
			return nil, err
		}
		if w.CurrentBalance, err = decimal.NewFromString(current); err != nil {
			return nil, err
		}
		if w.ReservedBalance, err = decimal.NewFromString(reserved); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (e *Engine) updateWalletTx(ctx context.Context, tx *sql.Tx, w *model.Wallet) error {
	_, err := tx.ExecContext(ctx, `
UPDATE wallets SET current_balance = ?, reserved_balance = ?, halted = ?, updated_at = ?
WHERE id = ?`,
		decString(w.CurrentBalance), decString(w.ReservedBalance), w.Halted, w.UpdatedAt, w.ID.String())
	if err != nil {
		return fmt.Errorf("engine: 更新钱包失败: %w", err)
	}
	return nil
}

func marshalSignal(s *model.SignalMeta) (interface{}, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("engine: 序列化信号摘要失败: %w", err)
	}
	return string(b), nil
}

func (e *Engine) insertOrder(ctx context.Context, q querier, o *model.Order) error {
	signalJSON, err := marshalSignal(o.Signal)
	if err != nil {
		return err
	}
	var rejectReason, rejectDetail interface{}
	if o.Rejection != nil {
		rejectReason = string(o.Rejection.Reason)
		rejectDetail = o.Rejection.Detail
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO orders (id, wallet_id, ticker, market, side, type, quantity, filled_quantity,
	limit_price, stop_price, avg_fill_price, reserved_amount, status,
	reject_reason, reject_detail, signal_json,
	submitted_at, filled_at, cancelled_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.WalletID.String(), o.Ticker, string(o.Market), string(o.Side), string(o.Type),
		o.Quantity, o.FilledQuantity,
		nullDecimal(o.LimitPrice), nullDecimal(o.StopPrice), nullDecimal(o.AvgFillPrice),
		decString(o.ReservedAmount), string(o.Status),
		rejectReason, rejectDetail, signalJSON,
		nullTime(o.SubmittedAt), nullTime(o.FilledAt), nullTime(o.CancelledAt),
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("engine: 写入订单失败: %w", err)
	}
	return nil
}

const orderColumns = `id, wallet_id, ticker, market, side, type, quantity, filled_quantity,
	limit_price, stop_price, avg_fill_price, reserved_amount, status,
	reject_reason, reject_detail, signal_json,
	submitted_at, filled_at, cancelled_at, created_at, updated_at`

type orderScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row orderScanner) (*model.Order, error) {
	var o model.Order
	var id, walletID, market, side, typ, status, reservedAmount string
	var limitPrice, stopPrice, avgFillPrice sql.NullString
	var rejectReason, rejectDetail, signalJSON sql.NullString
	var submittedAt, filledAt, cancelledAt sql.NullTime

	err := row.Scan(&id, &walletID, &o.Ticker, &market, &side, &typ, &o.Quantity, &o.FilledQuantity,
		&limitPrice, &stopPrice, &avgFillPrice, &reservedAmount, &status,
		&rejectReason, &rejectDetail, &signalJSON,
		&submittedAt, &filledAt, &cancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if o.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if o.WalletID, err = uuid.Parse(walletID); err != nil {
		return nil, err
	}
	o.Market = model.Market(market)
	o.Side = model.OrderSide(side)
	o.Type = model.OrderType(typ)
	o.Status = model.OrderStatus(status)

	if o.LimitPrice, err = scanDecimal(limitPrice); err != nil {
		return nil, err
	}
	if o.StopPrice, err = scanDecimal(stopPrice); err != nil {
		return nil, err
	}
	if o.AvgFillPrice, err = scanDecimal(avgFillPrice); err != nil {
		return nil, err
	}
	if o.ReservedAmount, err = decimal.NewFromString(reservedAmount); err != nil {
		return nil, err
	}

	if rejectReason.Valid {
		o.Rejection = &model.Rejection{
			Reason: model.RejectReason(rejectReason.String),
			Detail: rejectDetail.String,
		}
	}
	if signalJSON.Valid && signalJSON.String != "" {
		var meta model.SignalMeta
		if err := json.Unmarshal([]byte(signalJSON.String), &meta); err != nil {
			return nil, fmt.Errorf("engine: 解析信号摘要失败: %w", err)
		}
		o.Signal = &meta
	}

	o.SubmittedAt = fromNullTime(submittedAt)
	o.FilledAt = fromNullTime(filledAt)
	o.CancelledAt = fromNullTime(cancelledAt)
	return &o, nil
}

func (e *Engine) getOrder(ctx context.Context, q querier, orderID uuid.UUID) (*model.Order, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID.String())
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("engine: 查询订单失败: %w", err)
	}
	return o, nil
}

func (e *Engine) listOrdersByStatus(ctx context.Context, q querier, walletID uuid.UUID, statuses ...model.OrderStatus) ([]*model.Order, error) {
	placeholders := make([]string, 0, len(statuses))
	args := []interface{}{walletID.String()}
	for _, s := range statuses {
		placeholders = append(placeholders, "?")
		args = append(args, string(s))
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM orders WHERE wallet_id = ? AND status IN (%s) ORDER BY created_at`,
		orderColumns, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("engine: 查询订单列表失败: %w", err)
	}
	defer rows.Close()

	var out []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("engine: 读取订单失败: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (e *Engine) updateOrderTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	_, err := tx.ExecContext(ctx, `
UPDATE orders SET filled_quantity = ?, avg_fill_price = ?, reserved_amount = ?, status = ?,
	filled_at = ?, cancelled_at = ?, updated_at = ?
WHERE id = ?`,
		o.FilledQuantity, nullDecimal(o.AvgFillPrice), decString(o.ReservedAmount), string(o.Status),
		nullTime(o.FilledAt), nullTime(o.CancelledAt), o.UpdatedAt, o.ID.String())
	if err != nil {
		return fmt.Errorf("engine: 更新订单失败: %w", err)
	}
	return nil
}

func (e *Engine) insertTradeTx(ctx context.Context, tx *sql.Tx, t *model.Trade) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO trades (id, order_id, wallet_id, ticker, market, side, quantity, fill_price,
	slippage_bps, commission, gross_amount, net_amount, quote_bid, quote_ask, quote_mid, filled_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.OrderID.String(), t.WalletID.String(), t.Ticker, string(t.Market), string(t.Side),
		t.Quantity, decString(t.FillPrice),
		decString(t.SlippageBps), decString(t.Commission), decString(t.GrossAmount), decString(t.NetAmount),
		nullDecimal(t.QuoteBid), nullDecimal(t.QuoteAsk), nullDecimal(t.QuoteMid), t.FilledAt)
	if err != nil {
		return fmt.Errorf("engine: 写入成交记录失败: %w", err)
	}
	return nil
}

// ListTrades 返回钱包的成交历史，按成交时间升序。
func (e *Engine) ListTrades(ctx context.Context, walletID uuid.UUID) ([]model.Trade, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
SELECT id, order_id, wallet_id, ticker, market, side, quantity, fill_price,
	slippage_bps, commission, gross_amount, net_amount, quote_bid, quote_ask, quote_mid, filled_at
FROM trades WHERE wallet_id = ? ORDER BY filled_at`, walletID.String())
	if err != nil {
		return nil, fmt.Errorf("engine: 查询成交历史失败: %w", err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var id, orderID, wID, market, side string
		var fillPrice, slippage, commission, gross, net string
		var bid, ask, mid sql.NullString
		if err := rows.Scan(&id, &orderID, &wID, &t.Ticker, &market, &side, &t.Quantity, &fillPrice,
			&slippage, &commission, &gross, &net, &bid, &ask, &mid, &t.FilledAt); err != nil {
			return nil, fmt.Errorf("engine: 读取成交记录失败: %w", err)
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if t.OrderID, err = uuid.Parse(orderID); err != nil {
			return nil, err
		}
		if t.WalletID, err = uuid.Parse(wID); err != nil {
			return nil, err
		}
		t.Market = model.Market(market)
		t.Side = model.OrderSide(side)
		if t.FillPrice, err = decimal.NewFromString(fillPrice); err != nil {
			return nil, err
		}
		if t.SlippageBps, err = decimal.NewFromString(slippage); err != nil {
			return nil, err
		}
		if t.Commission, err = decimal.NewFromString(commission); err != nil {
			return nil, err
		}
		if t.GrossAmount, err = decimal.NewFromString(gross); err != nil {
			return nil, err
		}
		if t.NetAmount, err = decimal.NewFromString(net); err != nil {
			return nil, err
		}
		if t.QuoteBid, err = scanDecimal(bid); err != nil {
			return nil, err
		}
		if t.QuoteAsk, err = scanDecimal(ask); err != nil {
			return nil, err
		}
		if t.QuoteMid, err = scanDecimal(mid); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const positionColumns = `id, wallet_id, ticker, market, quantity, avg_entry_price, total_cost, realized_pnl, opened_at, closed_at, updated_at`

func scanPosition(row orderScanner) (*model.Position, error) {
	var p model.Position
	var id, walletID, market string
	var avgEntry, totalCost, realized string
	var closedAt sql.NullTime

	err := row.Scan(&id, &walletID, &p.Ticker, &market, &p.Quantity, &avgEntry, &totalCost, &realized,
		&p.OpenedAt, &closedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if p.WalletID, err = uuid.Parse(walletID); err != nil {
		return nil, err
	}
	p.Market = model.Market(market)
	if p.AvgEntryPrice, err = decimal.NewFromString(avgEntry); err != nil {
		return nil, err
	}
	if p.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return nil, err
	}
	if p.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
		return nil, err
	}
	p.ClosedAt = fromNullTime(closedAt)
	return &p, nil
}

func (e *Engine) getPosition(ctx context.Context, q querier, walletID uuid.UUID, ticker string, market model.Market) (*model.Position, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE wallet_id = ? AND ticker = ? AND market = ?`,
		walletID.String(), ticker, string(market))
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: 查询持仓失败: %w", err)
	}
	return p, nil
}

func (e *Engine) listPositions(ctx context.Context, walletID uuid.UUID, openOnly bool) ([]model.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE wallet_id = ?`
	if openOnly {
		query += ` AND quantity != 0 AND closed_at IS NULL`
	}
	query += ` ORDER BY opened_at`

	rows, err := e.store.DB().QueryContext(ctx, query, walletID.String())
	if err != nil {
		return nil, fmt.Errorf("engine: 查询持仓列表失败: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("engine: 读取持仓失败: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (e *Engine) upsertPositionTx(ctx context.Context, tx *sql.Tx, p *model.Position) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO positions (id, wallet_id, ticker, market, quantity, avg_entry_price, total_cost, realized_pnl, opened_at, closed_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(wallet_id, ticker, market) DO UPDATE SET
	quantity = excluded.quantity,
	avg_entry_price = excluded.avg_entry_price,
	total_cost = excluded.total_cost,
	realized_pnl = excluded.realized_pnl,
	opened_at = excluded.opened_at,
	closed_at = excluded.closed_at,
	updated_at = excluded.updated_at`,
		p.ID.String(), p.WalletID.String(), p.Ticker, string(p.Market),
		p.Quantity, decString(p.AvgEntryPrice), decString(p.TotalCost), decString(p.RealizedPnL),
		p.OpenedAt, nullTime(p.ClosedAt), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("engine: 更新持仓失败: %w", err)
	}
	return nil
}

// persistQuoteTx 把成交时引用的行情快照落库，供事后审计。
func (e *Engine) persistQuoteTx(ctx context.Context, tx *sql.Tx, q model.Quote) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO market_data (ticker, market, price, bid, ask, volume, provider, quote_time, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Ticker, string(q.Market), decString(q.Price),
		nullDecimal(q.Bid), nullDecimal(q.Ask), q.Volume, q.Provider, q.Timestamp, q.FetchedAt)
	if err != nil {
		return fmt.Errorf("engine: 写入行情快照失败: %w", err)
	}
	return nil
}
