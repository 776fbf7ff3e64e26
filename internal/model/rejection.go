package model

import "fmt"

// RejectReason 为订单拒绝原因的封闭枚举，调用方据此分支处理，不解析自由文本。
type RejectReason string

const (
	RejectWalletNotFound      RejectReason = "WALLET_NOT_FOUND"
	RejectWalletHalted        RejectReason = "WALLET_HALTED"
	RejectInvalidQuantity     RejectReason = "INVALID_QUANTITY"
	RejectMissingLimitPrice   RejectReason = "MISSING_LIMIT_PRICE"
	RejectMissingStopPrice    RejectReason = "MISSING_STOP_PRICE"
	RejectNoMarketData        RejectReason = "NO_MARKET_DATA"
	RejectDuplicatePosition   RejectReason = "DUPLICATE_POSITION"
	RejectMaxPositionsReached RejectReason = "MAX_POSITIONS_REACHED"
	RejectPositionTooLarge    RejectReason = "POSITION_TOO_LARGE"
	RejectInsufficientFunds   RejectReason = "INSUFFICIENT_BUYING_POWER"
	RejectNoPosition          RejectReason = "NO_POSITION_TO_SELL"
)

// Rejection 为拒绝原因附带可选的结构化说明。
type Rejection struct {
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// NewRejection 构造 Rejection，detail 支持格式化参数。
func NewRejection(reason RejectReason, format string, args ...interface{}) *Rejection {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Rejection{Reason: reason, Detail: detail}
}

func (r *Rejection) String() string {
	if r == nil {
		return ""
	}
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s (%s)", r.Reason, r.Detail)
}

// ValidateIntent 对下单意图做参数校验，返回首个不满足项。
func ValidateIntent(intent OrderIntent) *Rejection {
	if intent.Quantity <= 0 {
		return NewRejection(RejectInvalidQuantity, "quantity=%d", intent.Quantity)
	}
	if intent.Type.RequiresLimitPrice() && !intent.LimitPrice.IsPositive() {
		return NewRejection(RejectMissingLimitPrice, "%s 订单缺少限价", intent.Type)
	}
	if intent.Type.RequiresStopPrice() && !intent.StopPrice.IsPositive() {
		return NewRejection(RejectMissingStopPrice, "%s 订单缺少触发价", intent.Type)
	}
	return nil
}
