// Package fill 根据订单参数与行情快照计算模拟成交价。
package fill

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"paper-broker/internal/config"
	"paper-broker/internal/model"
)

// Engine 为成交价计算器。
// 滑点开启时，市价单在 [0, spread_bps/2] 基点内随机取值并向不利方向偏移。
type Engine struct {
	commission     decimal.Decimal
	enableSlippage bool

	// randFloat 返回 [0,1) 随机数，测试中注入固定值以保证确定性。
	randFloat func() float64
}

// NewEngine 构造成交引擎。
func NewEngine(cfg config.ExecutionConfig) *Engine {
	return &Engine{
		commission:     decimal.NewFromFloat(cfg.CommissionPerTrade),
		enableSlippage: cfg.EnableSlippage,
		randFloat:      rand.Float64,
	}
}

// Commission 返回单笔固定佣金。
func (e *Engine) Commission() decimal.Decimal {
	return e.commission
}

// ComputePrice 计算订单在给定行情下的成交价。
// 返回 ok=false 表示本周期不可成交（限价未触及、止损类型未实现），订单保持原状态。
func (e *Engine) ComputePrice(order *model.Order, quote model.Quote) (decimal.Decimal, bool) {
	switch order.Type {
	case model.OrderMarket:
		return e.marketPrice(order.Side, quote), true
	case model.OrderLimit:
		return limitPrice(order, quote)
	default:
		// STOP / STOP_LIMIT 的触发逻辑为预留挂点，当前不成交
		return decimal.Zero, false
	}
}

func (e *Engine) marketPrice(side model.OrderSide, quote model.Quote) decimal.Decimal {
	base := quote.Ask
	if side == model.SideSell {
		base = quote.Bid
	}
	if !base.IsPositive() {
		base = quote.Price
	}

	slip := e.slippageFactor(quote)
	one := decimal.NewFromInt(1)

	var price decimal.Decimal
	if side == model.SideBuy {
		price = base.Mul(one.Add(slip))
	} else {
		price = base.Mul(one.Sub(slip))
	}

	return price.Round(4)
}

// slippageFactor 返回成交价的相对偏移量（已从基点折算为比例）。
func (e *Engine) slippageFactor(quote model.Quote) decimal.Decimal {
	if !e.enableSlippage {
		return decimal.Zero
	}
	halfSpread := quote.SpreadBps().Div(decimal.NewFromInt(2))
	if !halfSpread.IsPositive() {
		return decimal.Zero
	}
	drawn := halfSpread.Mul(decimal.NewFromFloat(e.randFloat()))
	return drawn.Div(decimal.NewFromInt(10000))
}

func limitPrice(order *model.Order, quote model.Quote) (decimal.Decimal, bool) {
	if order.Side == model.SideBuy {
		if quote.Ask.IsPositive() && quote.Ask.LessThanOrEqual(order.LimitPrice) {
			return decimal.Min(quote.Ask, order.LimitPrice), true
		}
		return decimal.Zero, false
	}

	if quote.Bid.IsPositive() && quote.Bid.GreaterThanOrEqual(order.LimitPrice) {
		return decimal.Max(quote.Bid, order.LimitPrice), true
	}
	return decimal.Zero, false
}
