package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-broker/internal/marketdata"
	"paper-broker/internal/metrics"
	"paper-broker/internal/model"
)

// MatchAndFill 尝试撮合订单的剩余数量。
//
// 返回 (nil, nil) 表示本周期不可成交（限价未触及、止损未实现），订单保持原状态；
// 行情陈旧时返回 marketdata.ErrStaleQuote，调用方据此区分数据问题与正常未触及。
// 成交时资金、持仓、订单与成交记录在同一事务内更新，行情快照一并落库。
func (e *Engine) MatchAndFill(ctx context.Context, orderID uuid.UUID) (*model.Trade, error) {
	if e.cfg.FillTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.FillTimeout)
		defer cancel()
	}

	order, err := e.getOrder(ctx, e.store.DB(), orderID)
	if err != nil {
		return nil, err
	}

	lock := e.walletLock(order.WalletID)
	lock.Lock()
	defer lock.Unlock()

	// 拿锁后重读，避免与并发撤单或另一次撮合交叉
	order, err = e.getOrder(ctx, e.store.DB(), orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.IsActive() {
		return nil, ErrOrderNotActive
	}

	quote, err := e.quotes.GetQuote(ctx, order.Ticker, order.Market)
	if err != nil {
		return nil, fmt.Errorf("engine: 撮合获取行情失败: %w", err)
	}
	if quote.Age(e.now()) > e.mdCfg.MaxQuoteAge {
		return nil, fmt.Errorf("engine: %s 行情超过最大时效: %w", order.Ticker, marketdata.ErrStaleQuote)
	}

	price, ok := e.filler.ComputePrice(order, quote)
	if !ok {
		return nil, nil
	}

	quantity := order.RemainingQuantity()
	if quantity <= 0 {
		return nil, ErrOrderNotActive
	}

	now := e.now().UTC()
	trade := model.NewTrade(order, quantity, price, quote, e.filler.Commission(), now)

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		wallet, err := e.getWallet(ctx, tx, order.WalletID)
		if err != nil {
			return err
		}

		if order.Side == model.SideBuy {
			if err := e.applyBuy(ctx, tx, wallet, order, &trade, now); err != nil {
				return err
			}
		} else {
			if err := e.applySell(ctx, tx, wallet, order, &trade, now); err != nil {
				return err
			}
		}

		e.advanceOrder(order, &trade, now)
		if order.Status == model.StatusFilled && order.ReservedAmount.IsPositive() {
			// 预估冻结高于实际支出的部分在完全成交时退回
			wallet.ReservedBalance = clampZero(wallet.ReservedBalance.Sub(order.ReservedAmount))
			order.ReservedAmount = decimal.Zero
		}

		wallet.UpdatedAt = now
		if err := e.updateWalletTx(ctx, tx, wallet); err != nil {
			return err
		}
		if err := e.updateOrderTx(ctx, tx, order); err != nil {
			return err
		}
		if err := e.insertTradeTx(ctx, tx, &trade); err != nil {
			return err
		}
		return e.persistQuoteTx(ctx, tx, quote)
	})
	if err != nil {
		return nil, fmt.Errorf("engine: 成交结算失败: %w", err)
	}

	metrics.TradesFilled.WithLabelValues(string(trade.Side)).Inc()
	e.logger.Info("订单成交",
		zap.String("order_id", order.ID.String()),
		zap.String("ticker", order.Ticker),
		zap.String("side", string(order.Side)),
		zap.Int64("quantity", quantity),
		zap.String("fill_price", price.StringFixed(4)),
		zap.String("net_amount", trade.NetAmount.StringFixed(2)),
		zap.String("status", string(order.Status)))
	return &trade, nil
}

// applyBuy 扣减现金、释放冻结并更新成本基准。
func (e *Engine) applyBuy(ctx context.Context, tx *sql.Tx, wallet *model.Wallet, order *model.Order, trade *model.Trade, now time.Time) error {
	newBalance := wallet.CurrentBalance.Sub(trade.NetAmount)
	if newBalance.IsNegative() {
		return fmt.Errorf("engine: 成交金额 %s 超出现金余额 %s",
			trade.NetAmount.StringFixed(2), wallet.CurrentBalance.StringFixed(2))
	}
	wallet.CurrentBalance = newBalance

	release := decimal.Min(trade.NetAmount, order.ReservedAmount)
	wallet.ReservedBalance = clampZero(wallet.ReservedBalance.Sub(release))
	order.ReservedAmount = clampZero(order.ReservedAmount.Sub(release))

	pos, err := e.getPosition(ctx, tx, order.WalletID, order.Ticker, order.Market)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &model.Position{
			ID:       uuid.New(),
			WalletID: order.WalletID,
			Ticker:   order.Ticker,
			Market:   order.Market,
			OpenedAt: now,
		}
	} else if !pos.IsOpen() {
		// 重新开仓：数量与成本从零起算，历史已实现盈亏累计保留
		pos.Quantity = 0
		pos.TotalCost = decimal.Zero
		pos.AvgEntryPrice = decimal.Zero
		pos.OpenedAt = now
	}

	pos.Quantity += trade.Quantity
	pos.TotalCost = pos.TotalCost.Add(trade.NetAmount)
	pos.AvgEntryPrice = pos.TotalCost.Div(decimal.NewFromInt(pos.Quantity))
	pos.ClosedAt = time.Time{}
	pos.UpdatedAt = now
	return e.upsertPositionTx(ctx, tx, pos)
}

// applySell 入账卖出净额并结转已实现盈亏。
func (e *Engine) applySell(ctx context.Context, tx *sql.Tx, wallet *model.Wallet, order *model.Order, trade *model.Trade, now time.Time) error {
	pos, err := e.getPosition(ctx, tx, order.WalletID, order.Ticker, order.Market)
	if err != nil {
		return err
	}
	if pos == nil || pos.Quantity < trade.Quantity {
		return fmt.Errorf("engine: %s 持仓不足以卖出 %d 股", order.Ticker, trade.Quantity)
	}

	wallet.CurrentBalance = wallet.CurrentBalance.Add(trade.NetAmount)

	costBasis := pos.AvgEntryPrice.Mul(decimal.NewFromInt(trade.Quantity))
	realized := trade.NetAmount.Sub(costBasis)

	pos.Quantity -= trade.Quantity
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	if pos.Quantity == 0 {
		pos.TotalCost = decimal.Zero
		pos.AvgEntryPrice = decimal.Zero
		pos.ClosedAt = now
	} else {
		pos.TotalCost = pos.TotalCost.Sub(costBasis)
	}
	pos.UpdatedAt = now
	return e.upsertPositionTx(ctx, tx, pos)
}

// advanceOrder 更新成交数量、成交均价与状态。
func (e *Engine) advanceOrder(order *model.Order, trade *model.Trade, now time.Time) {
	prevFilled := decimal.NewFromInt(order.FilledQuantity)
	addQty := decimal.NewFromInt(trade.Quantity)
	totalQty := prevFilled.Add(addQty)

	notional := order.AvgFillPrice.Mul(prevFilled).Add(trade.FillPrice.Mul(addQty))
	order.AvgFillPrice = notional.Div(totalQty)
	order.FilledQuantity += trade.Quantity

	if order.RemainingQuantity() == 0 {
		order.Status = model.StatusFilled
		order.FilledAt = now
	} else {
		order.Status = model.StatusPartial
	}
	order.UpdatedAt = now
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
