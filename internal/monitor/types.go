package monitor

import (
	"time"

	"paper-broker/internal/model"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventOrderSubmitted EventType = "order_submitted"
	EventOrderRejected  EventType = "order_rejected"
	EventOrderCancelled EventType = "order_cancelled"
	EventTradeFilled    EventType = "trade_filled"
	EventCycleSummary   EventType = "cycle_summary"
	EventWalletHalted   EventType = "wallet_halted"
	EventError          EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OrderPayload 记录订单提交、拒绝与撤销。
type OrderPayload struct {
	OrderID  string            `json:"order_id"`
	WalletID string            `json:"wallet_id"`
	Ticker   string            `json:"ticker"`
	Market   string            `json:"market"`
	Side     string            `json:"side"`
	Type     string            `json:"order_type"`
	Quantity int64             `json:"quantity"`
	Status   string            `json:"status"`
	Reason   *model.Rejection  `json:"rejection,omitempty"`
	Signal   *model.SignalMeta `json:"signal,omitempty"`
}

// TradePayload 记录成交。
type TradePayload struct {
	TradeID     string `json:"trade_id"`
	OrderID     string `json:"order_id"`
	WalletID    string `json:"wallet_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Quantity    int64  `json:"quantity"`
	FillPrice   string `json:"fill_price"`
	Commission  string `json:"commission"`
	NetAmount   string `json:"net_amount"`
	SlippageBps string `json:"slippage_bps"`
}

// CycleSummaryPayload 记录单个执行周期的钱包结果。
type CycleSummaryPayload struct {
	WalletID   string `json:"wallet_id"`
	WalletName string `json:"wallet_name"`
	Submitted  int    `json:"submitted"`
	Rejected   int    `json:"rejected"`
	Filled     int    `json:"filled"`
	Expired    int    `json:"expired"`
	Equity     string `json:"equity"`
	DurationMs int64  `json:"duration_ms"`
}

// WalletHaltedPayload 记录账务不一致导致的停用。
type WalletHaltedPayload struct {
	WalletID   string `json:"wallet_id"`
	WalletName string `json:"wallet_name"`
	Detail     string `json:"detail"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
