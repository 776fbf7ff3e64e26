package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paper-broker/internal/model"
)

// MockProvider 提供离线行情，用于测试和无凭证运行。
type MockProvider struct {
	mu        sync.RWMutex
	prices    map[string]decimal.Decimal
	spreadBps decimal.Decimal
}

var defaultMockPrices = map[string]string{
	"AAPL":  "180.50",
	"MSFT":  "370.25",
	"GOOGL": "140.80",
	"AMZN":  "175.30",
	"TSLA":  "245.60",
	"SPY":   "550.10",
	"QQQ":   "480.75",
	"BHP":   "53.20",
	"WBC":   "40.85",
	"NAB":   "38.50",
}

// NewMockProvider 构造 Mock 行情源。
func NewMockProvider(spreadBps float64) *MockProvider {
	prices := make(map[string]decimal.Decimal, len(defaultMockPrices))
	for ticker, price := range defaultMockPrices {
		prices[ticker] = decimal.RequireFromString(price)
	}
	return &MockProvider{
		prices:    prices,
		spreadBps: decimal.NewFromFloat(spreadBps),
	}
}

// Name 实现 Provider。
func (m *MockProvider) Name() string {
	return "mock"
}

// SetPrice 覆盖指定标的的价格。
func (m *MockProvider) SetPrice(ticker string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[ticker] = price
}

// FetchQuote 实现 Provider。
func (m *MockProvider) FetchQuote(_ context.Context, ticker string, market model.Market) (model.Quote, error) {
	m.mu.RLock()
	price, ok := m.prices[ticker]
	m.mu.RUnlock()

	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, ticker)
	}

	bid, ask := SpreadModel(price, m.spreadBps)
	now := time.Now().UTC()

	return model.Quote{
		Ticker:    ticker,
		Market:    market,
		Price:     price,
		Bid:       bid,
		Ask:       ask,
		Volume:    1_000_000,
		Provider:  m.Name(),
		Timestamp: now,
		FetchedAt: now,
	}, nil
}
