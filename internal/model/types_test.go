package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestOrderStatus_Lifecycle(t *testing.T) {
	active := []OrderStatus{StatusPending, StatusSubmitted, StatusPartial}
	terminal := []OrderStatus{StatusFilled, StatusCancelled, StatusRejected}

	for _, s := range active {
		if !s.IsActive() || s.IsTerminal() {
			t.Errorf("%s must be active and non-terminal", s)
		}
	}
	for _, s := range terminal {
		if s.IsActive() || !s.IsTerminal() {
			t.Errorf("%s must be terminal and inactive", s)
		}
	}
}

func TestOrderType_PriceRequirements(t *testing.T) {
	if OrderMarket.RequiresLimitPrice() || OrderMarket.RequiresStopPrice() {
		t.Error("MARKET requires no prices")
	}
	if !OrderLimit.RequiresLimitPrice() || OrderLimit.RequiresStopPrice() {
		t.Error("LIMIT requires only a limit price")
	}
	if OrderStop.RequiresLimitPrice() || !OrderStop.RequiresStopPrice() {
		t.Error("STOP requires only a stop price")
	}
	if !OrderStopLimit.RequiresLimitPrice() || !OrderStopLimit.RequiresStopPrice() {
		t.Error("STOP_LIMIT requires both prices")
	}
}

func TestValidateIntent(t *testing.T) {
	base := OrderIntent{
		WalletID: uuid.New(),
		Ticker:   "AAPL",
		Market:   MarketNASDAQ,
		Side:     SideBuy,
		Type:     OrderMarket,
		Quantity: 10,
	}

	if rej := ValidateIntent(base); rej != nil {
		t.Errorf("valid intent rejected: %v", rej)
	}

	zeroQty := base
	zeroQty.Quantity = 0
	if rej := ValidateIntent(zeroQty); rej == nil || rej.Reason != RejectInvalidQuantity {
		t.Errorf("expected INVALID_QUANTITY, got %v", rej)
	}

	limit := base
	limit.Type = OrderLimit
	if rej := ValidateIntent(limit); rej == nil || rej.Reason != RejectMissingLimitPrice {
		t.Errorf("expected MISSING_LIMIT_PRICE, got %v", rej)
	}
	limit.LimitPrice = decimal.RequireFromString("100")
	if rej := ValidateIntent(limit); rej != nil {
		t.Errorf("limit intent with price rejected: %v", rej)
	}

	stop := base
	stop.Type = OrderStopLimit
	stop.LimitPrice = decimal.RequireFromString("100")
	if rej := ValidateIntent(stop); rej == nil || rej.Reason != RejectMissingStopPrice {
		t.Errorf("expected MISSING_STOP_PRICE, got %v", rej)
	}
}

func TestQuote_DerivedValues(t *testing.T) {
	q := Quote{
		Price: decimal.RequireFromString("100.00"),
		Bid:   decimal.RequireFromString("99.90"),
		Ask:   decimal.RequireFromString("100.10"),
	}

	if got := q.Mid().StringFixed(2); got != "100.00" {
		t.Errorf("expected mid 100.00, got %s", got)
	}
	if got := q.Spread().StringFixed(2); got != "0.20" {
		t.Errorf("expected spread 0.20, got %s", got)
	}
	if got := q.SpreadBps().StringFixed(0); got != "20" {
		t.Errorf("expected 20 bps, got %s", got)
	}

	// 无盘口：中间价退回最新价，价差为零
	bare := Quote{Price: decimal.RequireFromString("42")}
	if got := bare.Mid().StringFixed(2); got != "42.00" {
		t.Errorf("expected fallback mid 42.00, got %s", got)
	}
	if !bare.Spread().IsZero() {
		t.Errorf("expected zero spread without book, got %s", bare.Spread())
	}
}

func TestNewTrade_CommissionDirection(t *testing.T) {
	quote := Quote{
		Price: decimal.RequireFromString("100.00"),
		Bid:   decimal.RequireFromString("99.90"),
		Ask:   decimal.RequireFromString("100.10"),
	}
	commission := decimal.RequireFromString("1")
	now := time.Now().UTC()

	buy := &Order{ID: uuid.New(), WalletID: uuid.New(), Ticker: "AAPL", Side: SideBuy}
	bt := NewTrade(buy, 10, decimal.RequireFromString("100.10"), quote, commission, now)
	if got := bt.GrossAmount.StringFixed(2); got != "1001.00" {
		t.Errorf("expected gross 1001.00, got %s", got)
	}
	if got := bt.NetAmount.StringFixed(2); got != "1002.00" {
		t.Errorf("buy net must add commission, got %s", got)
	}

	sell := &Order{ID: uuid.New(), WalletID: uuid.New(), Ticker: "AAPL", Side: SideSell}
	st := NewTrade(sell, 10, decimal.RequireFromString("99.90"), quote, commission, now)
	if got := st.NetAmount.StringFixed(2); got != "998.00" {
		t.Errorf("sell net must subtract commission, got %s", got)
	}

	// 滑点相对中间价：买单高于中间价为正，卖单低于中间价为负
	if !bt.SlippageBps.IsPositive() {
		t.Errorf("buy above mid must have positive slippage, got %s", bt.SlippageBps)
	}
	if !st.SlippageBps.IsNegative() {
		t.Errorf("sell below mid must have negative slippage, got %s", st.SlippageBps)
	}
}

func TestWallet_BuyingPower(t *testing.T) {
	w := Wallet{
		CurrentBalance:  decimal.RequireFromString("10000"),
		ReservedBalance: decimal.RequireFromString("1500"),
	}
	if got := w.BuyingPower().StringFixed(2); got != "8500.00" {
		t.Errorf("expected buying power 8500.00, got %s", got)
	}
	if !w.CanAfford(decimal.RequireFromString("8500")) {
		t.Error("exact buying power must be affordable")
	}
	if w.CanAfford(decimal.RequireFromString("8500.01")) {
		t.Error("amount above buying power must not be affordable")
	}
}

func TestPosition_Valuation(t *testing.T) {
	p := Position{
		Quantity:      10,
		AvgEntryPrice: decimal.RequireFromString("100.10"),
		TotalCost:     decimal.RequireFromString("1001.00"),
	}
	price := decimal.RequireFromString("110")

	if got := p.MarketValue(price).StringFixed(2); got != "1100.00" {
		t.Errorf("expected market value 1100.00, got %s", got)
	}
	if got := p.UnrealizedPnL(price).StringFixed(2); got != "99.00" {
		t.Errorf("expected unrealized 99.00, got %s", got)
	}
	if !p.IsOpen() {
		t.Error("non-zero quantity without closed_at must be open")
	}
	p.ClosedAt = time.Now()
	if p.IsOpen() {
		t.Error("closed position must not report open")
	}
}
