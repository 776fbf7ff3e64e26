package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-broker/internal/model"
)

// 账务比对的容差，十进制运算下仅覆盖历史数据的舍入残留。
var consistencyTolerance = decimal.NewFromFloat(0.01)

// CheckConsistency 校验钱包账务不变量，发现破绽时停用钱包并返回描述性错误。
//
// 校验项：现金非负、冻结资金非负且不超过现金、现金加冻结不超过初始资金两倍、
// 冻结总额与活跃订单逐笔之和一致、持仓成本与均价×数量一致。
// 停用后的钱包不再接受新订单，直到 Reconcile 修复。
func (e *Engine) CheckConsistency(ctx context.Context, walletID uuid.UUID) error {
	lock := e.walletLock(walletID)
	lock.Lock()
	defer lock.Unlock()

	wallet, err := e.getWallet(ctx, e.store.DB(), walletID)
	if err != nil {
		return err
	}

	var violation string
	switch {
	case wallet.CurrentBalance.IsNegative():
		violation = fmt.Sprintf("现金为负: %s", wallet.CurrentBalance.StringFixed(2))
	case wallet.ReservedBalance.IsNegative():
		violation = fmt.Sprintf("冻结资金为负: %s", wallet.ReservedBalance.StringFixed(2))
	case wallet.ReservedBalance.GreaterThan(wallet.CurrentBalance.Add(consistencyTolerance)):
		violation = fmt.Sprintf("冻结资金 %s 超过现金 %s",
			wallet.ReservedBalance.StringFixed(2), wallet.CurrentBalance.StringFixed(2))
	case wallet.CurrentBalance.Add(wallet.ReservedBalance).
		GreaterThan(wallet.InitialBalance.Mul(decimal.NewFromInt(2)).Add(consistencyTolerance)):
		// 模拟盘不存在入金，现金加冻结超过初始资金两倍说明账务漂移
		violation = fmt.Sprintf("现金加冻结 %s 超过初始资金 %s 的两倍",
			wallet.CurrentBalance.Add(wallet.ReservedBalance).StringFixed(2),
			wallet.InitialBalance.StringFixed(2))
	}

	if violation == "" {
		expected, err := e.sumActiveReservations(ctx, e.store.DB(), walletID)
		if err != nil {
			return err
		}
		if wallet.ReservedBalance.Sub(expected).Abs().GreaterThan(consistencyTolerance) {
			violation = fmt.Sprintf("冻结总额 %s 与订单之和 %s 不一致",
				wallet.ReservedBalance.StringFixed(2), expected.StringFixed(2))
		}
	}

	if violation == "" {
		positions, err := e.listPositions(ctx, walletID, true)
		if err != nil {
			return err
		}
		for _, p := range positions {
			implied := p.AvgEntryPrice.Mul(decimal.NewFromInt(p.Quantity))
			if p.TotalCost.Sub(implied).Abs().GreaterThan(consistencyTolerance) {
				violation = fmt.Sprintf("%s 持仓成本 %s 与均价推算 %s 不一致",
					p.Ticker, p.TotalCost.StringFixed(2), implied.StringFixed(2))
				break
			}
		}
	}

	if violation == "" {
		return nil
	}

	if err := e.haltWallet(ctx, wallet); err != nil {
		return err
	}
	e.logger.Error("钱包账务不一致，已停用",
		zap.String("wallet_id", walletID.String()),
		zap.String("name", wallet.Name),
		zap.String("violation", violation))
	return fmt.Errorf("engine: 钱包 %s 账务不一致: %s", wallet.Name, violation)
}

// Reconcile 按活跃订单重算钱包冻结资金并解除停用。
func (e *Engine) Reconcile(ctx context.Context, walletID uuid.UUID) (*model.Wallet, error) {
	lock := e.walletLock(walletID)
	lock.Lock()
	defer lock.Unlock()

	var wallet *model.Wallet
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		wallet, err = e.getWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}

		// 和重算必须走事务内连接，内存库只有一条连接，走连接池会互相等死
		expected, err := e.sumActiveReservations(ctx, tx, walletID)
		if err != nil {
			return err
		}

		before := wallet.ReservedBalance
		wallet.ReservedBalance = clampZero(expected)
		wallet.Halted = false
		wallet.UpdatedAt = e.now().UTC()
		if err := e.updateWalletTx(ctx, tx, wallet); err != nil {
			return err
		}

		e.logger.Info("钱包对账完成",
			zap.String("wallet_id", walletID.String()),
			zap.String("reserved_before", before.StringFixed(2)),
			zap.String("reserved_after", wallet.ReservedBalance.StringFixed(2)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: 钱包对账失败: %w", err)
	}
	return wallet, nil
}

func (e *Engine) sumActiveReservations(ctx context.Context, q querier, walletID uuid.UUID) (decimal.Decimal, error) {
	orders, err := e.listOrdersByStatus(ctx, q, walletID,
		model.StatusPending, model.StatusSubmitted, model.StatusPartial)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, o := range orders {
		sum = sum.Add(o.ReservedAmount)
	}
	return sum, nil
}

func (e *Engine) haltWallet(ctx context.Context, wallet *model.Wallet) error {
	wallet.Halted = true
	wallet.UpdatedAt = e.now().UTC()
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		return e.updateWalletTx(ctx, tx, wallet)
	})
	if err != nil {
		return fmt.Errorf("engine: 停用钱包失败: %w", err)
	}
	return nil
}

// Equity 返回钱包权益：现金加全部持仓按最新行情的市值。
// 估值允许使用缓存中的陈旧行情，取不到任何行情的持仓按成本计入。
func (e *Engine) Equity(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	wallet, err := e.getWallet(ctx, e.store.DB(), walletID)
	if err != nil {
		return decimal.Zero, err
	}

	positions, err := e.listPositions(ctx, walletID, true)
	if err != nil {
		return decimal.Zero, err
	}

	equity := wallet.CurrentBalance
	for _, p := range positions {
		quote, err := e.quotes.GetQuoteAllowStale(ctx, p.Ticker, p.Market)
		if err != nil {
			e.logger.Warn("估值取行情失败，按成本计入",
				zap.String("ticker", p.Ticker), zap.Error(err))
			equity = equity.Add(p.TotalCost)
			continue
		}
		equity = equity.Add(p.MarketValue(quote.Price))
	}
	return equity, nil
}
