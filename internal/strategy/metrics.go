package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"paper-broker/internal/model"
)

func (r *Runner) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS strategy_metrics (
	wallet_id TEXT NOT NULL,
	date TEXT NOT NULL,
	wallet_name TEXT NOT NULL,
	equity TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	total_pnl TEXT NOT NULL,
	total_pnl_pct TEXT NOT NULL,
	trade_count INTEGER NOT NULL,
	winning_positions INTEGER NOT NULL,
	losing_positions INTEGER NOT NULL,
	win_rate REAL NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (wallet_id, date)
);
`
	_, err := r.store.DB().Exec(schema)
	return err
}

// snapshotMetrics 重算并覆写钱包当日的绩效快照，返回当前权益。
// 每个 (钱包, 日期) 一行，同日多次周期覆写同一行，跨日各自留存。
// 胜负按持仓维度的已实现盈亏统计，未平仓且无兑现盈亏的持仓不计入胜率。
func (r *Runner) snapshotMetrics(ctx context.Context, wallet *model.Wallet) (decimal.Decimal, error) {
	equity, err := r.engine.Equity(ctx, wallet.ID)
	if err != nil {
		return decimal.Zero, err
	}

	positions, err := r.engine.AllPositions(ctx, wallet.ID)
	if err != nil {
		return equity, err
	}
	trades, err := r.engine.ListTrades(ctx, wallet.ID)
	if err != nil {
		return equity, err
	}

	realized := decimal.Zero
	winning, losing := 0, 0
	for _, p := range positions {
		realized = realized.Add(p.RealizedPnL)
		if p.RealizedPnL.IsPositive() {
			winning++
		} else if p.RealizedPnL.IsNegative() {
			losing++
		}
	}

	totalPnL := equity.Sub(wallet.InitialBalance)
	pnlPct := decimal.Zero
	if wallet.InitialBalance.IsPositive() {
		pnlPct = totalPnL.Div(wallet.InitialBalance).Mul(decimal.NewFromInt(100))
	}

	winRate := 0.0
	if winning+losing > 0 {
		winRate = float64(winning) / float64(winning+losing)
	}

	now := r.now().UTC()
	_, err = r.store.DB().ExecContext(ctx, `
INSERT INTO strategy_metrics (wallet_id, date, wallet_name, equity, realized_pnl, total_pnl, total_pnl_pct,
	trade_count, winning_positions, losing_positions, win_rate, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(wallet_id, date) DO UPDATE SET
	wallet_name = excluded.wallet_name,
	equity = excluded.equity,
	realized_pnl = excluded.realized_pnl,
	total_pnl = excluded.total_pnl,
	total_pnl_pct = excluded.total_pnl_pct,
	trade_count = excluded.trade_count,
	winning_positions = excluded.winning_positions,
	losing_positions = excluded.losing_positions,
	win_rate = excluded.win_rate,
	updated_at = excluded.updated_at`,
		wallet.ID.String(), now.Format("2006-01-02"), wallet.Name,
		equity.String(), realized.String(), totalPnL.String(), pnlPct.StringFixed(4),
		len(trades), winning, losing, winRate, now)
	if err != nil {
		return equity, fmt.Errorf("strategy: 写入指标快照失败: %w", err)
	}
	return equity, nil
}
