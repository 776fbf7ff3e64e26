package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Market 表示交易市场。
type Market string

const (
	MarketASX    Market = "ASX"
	MarketNASDAQ Market = "NASDAQ"
	MarketNYSE   Market = "NYSE"
	MarketTSX    Market = "TSX"
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType 表示订单类型。
type OrderType string

const (
	OrderMarket    OrderType = "MARKET"
	OrderLimit     OrderType = "LIMIT"
	OrderStop      OrderType = "STOP"
	OrderStopLimit OrderType = "STOP_LIMIT"
)

// RequiresLimitPrice 判断订单类型是否必须携带限价。
func (t OrderType) RequiresLimitPrice() bool {
	return t == OrderLimit || t == OrderStopLimit
}

// RequiresStopPrice 判断订单类型是否必须携带止损触发价。
func (t OrderType) RequiresStopPrice() bool {
	return t == OrderStop || t == OrderStopLimit
}

// OrderStatus 表示订单生命周期状态。
//
// 状态机: PENDING → SUBMITTED → {PARTIAL → FILLED | CANCELLED | REJECTED}。
// FILLED/CANCELLED/REJECTED 为终态，不再迁移。
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal 判断是否为终态。
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// IsActive 判断订单是否仍可撮合或撤销。
func (s OrderStatus) IsActive() bool {
	return s == StatusPending || s == StatusSubmitted || s == StatusPartial
}

// SignalMeta 为订单携带的原始信号摘要，随订单落库以便审计。
type SignalMeta struct {
	Score       float64   `json:"score"`
	Side        string    `json:"side"`
	SignalPrice float64   `json:"signal_price,omitempty"`
	Source      string    `json:"source,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// OrderIntent 表示提交前的下单意图。
type OrderIntent struct {
	WalletID   uuid.UUID
	Ticker     string
	Market     Market
	Side       OrderSide
	Type       OrderType
	Quantity   int64
	LimitPrice decimal.Decimal // 零值表示未填
	StopPrice  decimal.Decimal // 零值表示未填
	Signal     *SignalMeta
}

// Order 表示订单记录。
type Order struct {
	ID             uuid.UUID
	WalletID       uuid.UUID
	Ticker         string
	Market         Market
	Side           OrderSide
	Type           OrderType
	Quantity       int64
	FilledQuantity int64
	LimitPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	AvgFillPrice   decimal.Decimal
	ReservedAmount decimal.Decimal // 该订单当前仍占用的冻结资金
	Status         OrderStatus
	Rejection      *Rejection
	Signal         *SignalMeta
	SubmittedAt    time.Time
	FilledAt       time.Time
	CancelledAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RemainingQuantity 返回尚未成交的数量。
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// Quote 表示单个标的的最新行情快照，刷新时整体替换不做合并。
// Bid/Ask 为零值时表示上游未提供盘口。
type Quote struct {
	Ticker    string
	Market    Market
	Price     decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume    int64
	Provider  string
	Timestamp time.Time
	FetchedAt time.Time
}

// Mid 返回买卖中间价，无盘口时退回最新价。
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	return q.Price
}

// Spread 返回买卖价差，无盘口时返回零值。
func (q Quote) Spread() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Ask.Sub(q.Bid)
	}
	return decimal.Zero
}

// SpreadBps 返回以基点表示的价差。
func (q Quote) SpreadBps() decimal.Decimal {
	spread := q.Spread()
	mid := q.Mid()
	if spread.IsZero() || !mid.IsPositive() {
		return decimal.Zero
	}
	return spread.Div(mid).Mul(decimal.NewFromInt(10000))
}

// Age 返回行情距采集时刻的时长。
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.FetchedAt)
}

// Trade 表示不可变的成交记录，只追加不修改。
type Trade struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	WalletID    uuid.UUID
	Ticker      string
	Market      Market
	Side        OrderSide
	Quantity    int64
	FillPrice   decimal.Decimal
	SlippageBps decimal.Decimal
	Commission  decimal.Decimal
	GrossAmount decimal.Decimal
	NetAmount   decimal.Decimal
	QuoteBid    decimal.Decimal
	QuoteAsk    decimal.Decimal
	QuoteMid    decimal.Decimal
	FilledAt    time.Time
}

// NewTrade 根据成交参数构造 Trade。
// 买入时佣金计入净支出，卖出时从净收入扣除；滑点按相对中间价折算为基点。
func NewTrade(order *Order, quantity int64, fillPrice decimal.Decimal, quote Quote, commission decimal.Decimal, filledAt time.Time) Trade {
	gross := decimal.NewFromInt(quantity).Mul(fillPrice)

	net := gross.Add(commission)
	if order.Side == SideSell {
		net = gross.Sub(commission)
	}

	slippageBps := decimal.Zero
	if mid := quote.Mid(); mid.IsPositive() {
		slippageBps = fillPrice.Sub(mid).Div(mid).Mul(decimal.NewFromInt(10000))
	}

	return Trade{
		ID:          uuid.New(),
		OrderID:     order.ID,
		WalletID:    order.WalletID,
		Ticker:      order.Ticker,
		Market:      order.Market,
		Side:        order.Side,
		Quantity:    quantity,
		FillPrice:   fillPrice,
		SlippageBps: slippageBps,
		Commission:  commission,
		GrossAmount: gross,
		NetAmount:   net,
		QuoteBid:    quote.Bid,
		QuoteAsk:    quote.Ask,
		QuoteMid:    quote.Mid(),
		FilledAt:    filledAt,
	}
}

// Position 表示 (wallet, ticker, market) 维度的持仓。
// 当前价与未实现盈亏永不落库，始终依据最新行情现算。
type Position struct {
	ID            uuid.UUID
	WalletID      uuid.UUID
	Ticker        string
	Market        Market
	Quantity      int64
	AvgEntryPrice decimal.Decimal
	TotalCost     decimal.Decimal
	RealizedPnL   decimal.Decimal
	OpenedAt      time.Time
	ClosedAt      time.Time
	UpdatedAt     time.Time
}

// IsOpen 判断持仓是否仍然有效。
func (p *Position) IsOpen() bool {
	return p.Quantity != 0 && p.ClosedAt.IsZero()
}

// MarketValue 返回按给定价格计算的持仓市值。
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(p.Quantity).Mul(price)
}

// UnrealizedPnL 返回按给定价格计算的未实现盈亏。
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.MarketValue(price).Sub(p.TotalCost)
}

// Wallet 表示一个独立的模拟资金账户。
type Wallet struct {
	ID              uuid.UUID
	Name            string
	CapitalTier     string
	InitialBalance  decimal.Decimal
	CurrentBalance  decimal.Decimal
	ReservedBalance decimal.Decimal
	Halted          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BuyingPower 返回可用于新订单的资金。
func (w *Wallet) BuyingPower() decimal.Decimal {
	return w.CurrentBalance.Sub(w.ReservedBalance)
}

// CanAfford 判断购买力是否覆盖给定金额。
func (w *Wallet) CanAfford(amount decimal.Decimal) bool {
	return w.BuyingPower().GreaterThanOrEqual(amount)
}
