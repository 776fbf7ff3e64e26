package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"paper-broker/internal/config"
	"paper-broker/internal/model"
	"paper-broker/internal/signal"
)

// buildIntent 把候选信号转换为下单意图，返回 ok=false 表示本周期放弃该候选。
//
// 卖出信号平掉全部持仓；买入信号按配置的分配策略确定预算：
//   - equal_weight: 购买力均分到剩余可用仓位槽
//   - percent_of_buying_power: 购买力的固定比例
func (r *Runner) buildIntent(ctx context.Context, wallet *model.Wallet, c signal.Candidate) (model.OrderIntent, bool, error) {
	meta := &model.SignalMeta{
		Score:      c.Score,
		Side:       string(c.Side),
		Source:     c.Source,
		ObservedAt: c.ObservedAt,
	}

	if c.Side == model.SideSell {
		positions, err := r.engine.OpenPositions(ctx, wallet.ID)
		if err != nil {
			return model.OrderIntent{}, false, err
		}
		for _, p := range positions {
			if p.Ticker == c.Ticker && p.Market == c.Market {
				return model.OrderIntent{
					WalletID: wallet.ID,
					Ticker:   c.Ticker,
					Market:   c.Market,
					Side:     model.SideSell,
					Type:     model.OrderMarket,
					Quantity: p.Quantity,
					Signal:   meta,
				}, true, nil
			}
		}
		return model.OrderIntent{}, false, nil
	}

	quote, err := r.quotes.GetQuote(ctx, c.Ticker, c.Market)
	if err != nil {
		return model.OrderIntent{}, false, fmt.Errorf("strategy: 获取 %s 行情失败: %w", c.Ticker, err)
	}

	price := quote.Ask
	if !price.IsPositive() {
		price = quote.Price
	}
	if !price.IsPositive() {
		return model.OrderIntent{}, false, nil
	}

	budget, err := r.orderBudget(ctx, wallet)
	if err != nil {
		return model.OrderIntent{}, false, err
	}

	quantity := budget.Div(price).IntPart()
	if quantity <= 0 {
		return model.OrderIntent{}, false, nil
	}

	meta.SignalPrice, _ = price.Float64()
	return model.OrderIntent{
		WalletID: wallet.ID,
		Ticker:   c.Ticker,
		Market:   c.Market,
		Side:     model.SideBuy,
		Type:     model.OrderMarket,
		Quantity: quantity,
		Signal:   meta,
	}, true, nil
}

// orderBudget 返回单笔订单可动用的资金（已扣除佣金）。
func (r *Runner) orderBudget(ctx context.Context, wallet *model.Wallet) (decimal.Decimal, error) {
	available := wallet.BuyingPower().Sub(
		wallet.InitialBalance.Mul(decimal.NewFromFloat(r.riskCfg.MinReservePct)))
	if !available.IsPositive() {
		return decimal.Zero, nil
	}

	var budget decimal.Decimal
	switch r.cfg.Sizing {
	case config.SizingPercentBuyingPower:
		budget = wallet.BuyingPower().Mul(decimal.NewFromFloat(r.cfg.PercentPerOrder))
	default:
		// equal_weight
		positions, err := r.engine.OpenPositions(ctx, wallet.ID)
		if err != nil {
			return decimal.Zero, err
		}
		slots := r.riskCfg.MaxConcurrentPositions - len(positions)
		if slots <= 0 {
			return decimal.Zero, nil
		}
		budget = available.Div(decimal.NewFromInt(int64(slots)))
	}

	budget = decimal.Min(budget, available)

	// 预算上限同时受单仓位规模约束
	maxPosition := wallet.InitialBalance.Mul(decimal.NewFromFloat(r.riskCfg.MaxPositionPct))
	budget = decimal.Min(budget, maxPosition)

	budget = budget.Sub(r.commission())
	if budget.IsNegative() {
		return decimal.Zero, nil
	}
	return budget, nil
}

func (r *Runner) commission() decimal.Decimal {
	return decimal.NewFromFloat(r.execCfg.CommissionPerTrade)
}
