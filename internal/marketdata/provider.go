package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"paper-broker/internal/config"
	"paper-broker/internal/model"
)

var (
	// ErrCircuitOpen 表示熔断器已打开，所有行情调用快速失败。
	ErrCircuitOpen = errors.New("marketdata: 熔断器已打开")
	// ErrQuoteNotFound 表示上游没有该标的的行情，不可重试。
	ErrQuoteNotFound = errors.New("marketdata: 无此标的行情")
	// ErrUpstreamUnavailable 表示上游临时故障（超时、非2xx），可重试。
	ErrUpstreamUnavailable = errors.New("marketdata: 上游行情不可用")
	// ErrMalformedPayload 表示上游返回无法解析，按临时故障处理。
	ErrMalformedPayload = errors.New("marketdata: 上游返回格式异常")
	// ErrStaleQuote 表示缓存行情超过最大可用时长。
	ErrStaleQuote = errors.New("marketdata: 行情已过期")
)

// IsRetryable 判断行情错误是否可重试。
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrMalformedPayload)
}

// Provider 抽象上游行情源。
type Provider interface {
	// FetchQuote 拉取单个标的的最新行情。
	FetchQuote(ctx context.Context, ticker string, market model.Market) (model.Quote, error)
	// Name 返回行情源标识，写入 Quote.Provider。
	Name() string
}

// NewProvider 按配置构造行情源。
func NewProvider(cfg config.MarketDataConfig, logger *zap.Logger) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "alphavantage":
		return NewAlphaVantageProvider(cfg, logger), nil
	case "mock":
		return NewMockProvider(cfg.SpreadBps), nil
	default:
		return nil, fmt.Errorf("marketdata: 不支持的行情源 %q", cfg.Provider)
	}
}
