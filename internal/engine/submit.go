package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-broker/internal/metrics"
	"paper-broker/internal/model"
	"paper-broker/internal/risk"
)

// SubmitOrder 校验并提交订单。
//
// 校验链：钱包状态 → 参数 → 持仓（卖出）→ 行情 → 风控。任何一环失败都会
// 落库一条 REJECTED 订单并返回，调用方通过 Order.Rejection 获知原因；
// 只有钱包不存在这类调用错误才以 error 返回。
// 通过后在同一事务内写入 SUBMITTED 订单并冻结预估资金。
func (e *Engine) SubmitOrder(ctx context.Context, intent model.OrderIntent) (*model.Order, error) {
	lock := e.walletLock(intent.WalletID)
	lock.Lock()
	defer lock.Unlock()

	wallet, err := e.getWallet(ctx, e.store.DB(), intent.WalletID)
	if err != nil {
		return nil, err
	}

	if wallet.Halted {
		return e.rejectIntent(ctx, intent,
			model.NewRejection(model.RejectWalletHalted, "钱包 %s 待对账", wallet.Name))
	}

	if rej := model.ValidateIntent(intent); rej != nil {
		return e.rejectIntent(ctx, intent, rej)
	}

	if intent.Side == model.SideSell {
		pos, err := e.getPosition(ctx, e.store.DB(), intent.WalletID, intent.Ticker, intent.Market)
		if err != nil {
			return nil, err
		}
		if pos == nil || !pos.IsOpen() {
			return e.rejectIntent(ctx, intent,
				model.NewRejection(model.RejectNoPosition, "%s 无持仓", intent.Ticker))
		}
		if pos.Quantity < intent.Quantity {
			return e.rejectIntent(ctx, intent,
				model.NewRejection(model.RejectNoPosition, "%s 持仓 %d 不足 %d", intent.Ticker, pos.Quantity, intent.Quantity))
		}
	}

	quote, err := e.quotes.GetQuote(ctx, intent.Ticker, intent.Market)
	if err != nil {
		e.logger.Warn("提交前获取行情失败",
			zap.String("ticker", intent.Ticker), zap.Error(err))
		return e.rejectIntent(ctx, intent,
			model.NewRejection(model.RejectNoMarketData, "%v", err))
	}
	if quote.Age(e.now()) > e.mdCfg.MaxQuoteAge {
		return e.rejectIntent(ctx, intent,
			model.NewRejection(model.RejectNoMarketData, "行情已过期 %s", quote.Age(e.now()).Truncate(time.Second)))
	}

	estimated := e.estimateCost(intent, quote)

	if intent.Side == model.SideBuy {
		positions, err := e.listPositions(ctx, intent.WalletID, true)
		if err != nil {
			return nil, err
		}
		check := risk.OrderCheck{Ticker: intent.Ticker, Side: intent.Side, EstimatedCost: estimated}
		if rej := e.validator.Check(wallet, positions, check); rej != nil {
			return e.rejectIntent(ctx, intent, rej)
		}
	}

	now := e.now().UTC()
	order := &model.Order{
		ID:          uuid.New(),
		WalletID:    intent.WalletID,
		Ticker:      intent.Ticker,
		Market:      intent.Market,
		Side:        intent.Side,
		Type:        intent.Type,
		Quantity:    intent.Quantity,
		LimitPrice:  intent.LimitPrice,
		StopPrice:   intent.StopPrice,
		Status:      model.StatusSubmitted,
		Signal:      intent.Signal,
		SubmittedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if intent.Side == model.SideBuy {
		order.ReservedAmount = estimated
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.insertOrder(ctx, tx, order); err != nil {
			return err
		}
		if order.ReservedAmount.IsPositive() {
			wallet.ReservedBalance = wallet.ReservedBalance.Add(order.ReservedAmount)
			wallet.UpdatedAt = now
			return e.updateWalletTx(ctx, tx, wallet)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: 提交订单失败: %w", err)
	}

	metrics.OrdersSubmitted.WithLabelValues(string(order.Side)).Inc()
	e.logger.Info("订单已提交",
		zap.String("order_id", order.ID.String()),
		zap.String("wallet_id", order.WalletID.String()),
		zap.String("ticker", order.Ticker),
		zap.String("side", string(order.Side)),
		zap.String("type", string(order.Type)),
		zap.Int64("quantity", order.Quantity),
		zap.String("reserved", order.ReservedAmount.StringFixed(2)))
	return order, nil
}

// estimateCost 返回订单的预估占用资金（买入含佣金）。
// 市价买用卖一价、市价卖用买一价估算，缺盘口时退回最新价；限价单用限价估算。
func (e *Engine) estimateCost(intent model.OrderIntent, quote model.Quote) decimal.Decimal {
	price := quote.Ask
	if intent.Side == model.SideSell {
		price = quote.Bid
	}
	if intent.Type.RequiresLimitPrice() {
		price = intent.LimitPrice
	}
	if !price.IsPositive() {
		price = quote.Price
	}

	cost := decimal.NewFromInt(intent.Quantity).Mul(price)
	if intent.Side == model.SideBuy {
		cost = cost.Add(e.filler.Commission())
	}
	return cost
}

// rejectIntent 落库一条 REJECTED 订单并返回。
func (e *Engine) rejectIntent(ctx context.Context, intent model.OrderIntent, rej *model.Rejection) (*model.Order, error) {
	now := e.now().UTC()
	order := &model.Order{
		ID:         uuid.New(),
		WalletID:   intent.WalletID,
		Ticker:     intent.Ticker,
		Market:     intent.Market,
		Side:       intent.Side,
		Type:       intent.Type,
		Quantity:   intent.Quantity,
		LimitPrice: intent.LimitPrice,
		StopPrice:  intent.StopPrice,
		Status:     model.StatusRejected,
		Rejection:  rej,
		Signal:     intent.Signal,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.insertOrder(ctx, e.store.DB(), order); err != nil {
		return nil, err
	}

	metrics.OrdersRejected.WithLabelValues(string(rej.Reason)).Inc()
	e.logger.Info("订单已拒绝",
		zap.String("wallet_id", intent.WalletID.String()),
		zap.String("ticker", intent.Ticker),
		zap.String("side", string(intent.Side)),
		zap.String("reason", string(rej.Reason)),
		zap.String("detail", rej.Detail))
	return order, nil
}
