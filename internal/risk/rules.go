// Package risk 针对钱包快照与下单意图执行无状态风控检查。
package risk

import (
	"github.com/shopspring/decimal"

	"paper-broker/internal/config"
	"paper-broker/internal/model"
)

// OrderCheck 为一次风控评估的输入。
type OrderCheck struct {
	Ticker        string
	Side          model.OrderSide
	EstimatedCost decimal.Decimal
}

// Validator 按固定顺序执行风控规则，首个不满足项即返回。
// 校验不携带任何内部状态：同一快照与同一输入必然得到同一结论。
type Validator struct {
	cfg config.RiskConfig
}

// NewValidator 构造风控校验器。
func NewValidator(cfg config.RiskConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Check 评估订单是否可接受，返回 nil 表示通过。
//
// 规则顺序：
//  1. 重复持仓（减仓/平仓方向除外）
//  2. 最大并发持仓数
//  3. 单仓位规模上限
//  4. 购买力下限（保留现金比例）
func (v *Validator) Check(wallet *model.Wallet, positions []model.Position, check OrderCheck) *model.Rejection {
	var existing *model.Position
	openCount := 0
	for i := range positions {
		if !positions[i].IsOpen() {
			continue
		}
		openCount++
		if positions[i].Ticker == check.Ticker {
			existing = &positions[i]
		}
	}

	if check.Side == model.SideSell {
		// 卖出只会降低敞口，不占用购买力，规则 2-4 不适用
		return nil
	}

	if existing != nil {
		return model.NewRejection(model.RejectDuplicatePosition,
			"%s 已有 %d 股持仓", check.Ticker, existing.Quantity)
	}

	if openCount >= v.cfg.MaxConcurrentPositions {
		return model.NewRejection(model.RejectMaxPositionsReached,
			"%d/%d", openCount, v.cfg.MaxConcurrentPositions)
	}

	maxPosition := wallet.InitialBalance.Mul(decimal.NewFromFloat(v.cfg.MaxPositionPct))
	if check.EstimatedCost.GreaterThan(maxPosition) {
		return model.NewRejection(model.RejectPositionTooLarge,
			"cost=%s max=%s", check.EstimatedCost.StringFixed(2), maxPosition.StringFixed(2))
	}

	minReserve := wallet.InitialBalance.Mul(decimal.NewFromFloat(v.cfg.MinReservePct))
	if wallet.BuyingPower().Sub(check.EstimatedCost).LessThan(minReserve) {
		return model.NewRejection(model.RejectInsufficientFunds,
			"buying_power=%s cost=%s reserve=%s",
			wallet.BuyingPower().StringFixed(2), check.EstimatedCost.StringFixed(2), minReserve.StringFixed(2))
	}

	return nil
}
