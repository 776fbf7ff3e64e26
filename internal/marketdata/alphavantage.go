package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-broker/internal/config"
	"paper-broker/internal/model"
)

// AlphaVantageProvider 基于 Alpha Vantage GLOBAL_QUOTE 接口拉取实时行情。
// 该接口不返回盘口，买卖价按配置的基点价差建模。
// 上游凭证只进请求参数，任何日志与错误信息都不携带。
type AlphaVantageProvider struct {
	cfg       config.MarketDataConfig
	client    *http.Client
	spreadBps decimal.Decimal
	logger    *zap.Logger
}

// NewAlphaVantageProvider 构造 Alpha Vantage 行情源。
func NewAlphaVantageProvider(cfg config.MarketDataConfig, logger *zap.Logger) *AlphaVantageProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AlphaVantageProvider{
		cfg:       cfg,
		client:    &http.Client{Timeout: timeout},
		spreadBps: decimal.NewFromFloat(cfg.SpreadBps),
		logger:    logger,
	}
}

// Name 实现 Provider。
func (p *AlphaVantageProvider) Name() string {
	return "alphavantage-realtime"
}

type globalQuotePayload struct {
	GlobalQuote map[string]string `json:"Global Quote"`
	ErrorMsg    string            `json:"Error Message"`
	Note        string            `json:"Note"`
}

// FetchQuote 实现 Provider。
func (p *AlphaVantageProvider) FetchQuote(ctx context.Context, ticker string, market model.Market) (model.Quote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", ticker)
	params.Set("entitlement", "realtime")
	params.Set("apikey", p.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return model.Quote{}, fmt.Errorf("marketdata: 构造请求失败: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return model.Quote{}, ctx.Err()
		}
		return model.Quote{}, fmt.Errorf("%w: %s 请求失败", ErrUpstreamUnavailable, ticker)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Quote{}, fmt.Errorf("%w: %s 返回状态 %d", ErrUpstreamUnavailable, ticker, resp.StatusCode)
	}

	var payload globalQuotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return model.Quote{}, fmt.Errorf("%w: %s 解析失败", ErrMalformedPayload, ticker)
	}

	if payload.ErrorMsg != "" {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, ticker)
	}
	if payload.Note != "" {
		// Note 字段意味着触发了上游限流
		return model.Quote{}, fmt.Errorf("%w: %s 触发上游限流", ErrUpstreamUnavailable, ticker)
	}
	if len(payload.GlobalQuote) == 0 {
		return model.Quote{}, fmt.Errorf("%w: %s 无行情数据", ErrMalformedPayload, ticker)
	}

	priceStr := strings.TrimSpace(payload.GlobalQuote["05. price"])
	price, err := decimal.NewFromString(priceStr)
	if err != nil || !price.IsPositive() {
		return model.Quote{}, fmt.Errorf("%w: %s 价格字段无效", ErrMalformedPayload, ticker)
	}

	volume := int64(0)
	if v, parseErr := strconv.ParseInt(strings.TrimSpace(payload.GlobalQuote["06. volume"]), 10, 64); parseErr == nil {
		volume = v
	}

	bid, ask := SpreadModel(price, p.spreadBps)
	now := time.Now().UTC()

	p.logger.Debug("行情拉取成功",
		zap.String("ticker", ticker),
		zap.String("price", price.String()),
	)

	return model.Quote{
		Ticker:    ticker,
		Market:    market,
		Price:     price,
		Bid:       bid,
		Ask:       ask,
		Volume:    volume,
		Provider:  p.Name(),
		Timestamp: now,
		FetchedAt: now,
	}, nil
}

// SpreadModel 以基点价差围绕最新价构造买卖报价，保留四位小数。
func SpreadModel(price, spreadBps decimal.Decimal) (bid, ask decimal.Decimal) {
	if !price.IsPositive() || !spreadBps.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	factor := spreadBps.Div(decimal.NewFromInt(10000))
	one := decimal.NewFromInt(1)
	bid = price.Mul(one.Sub(factor)).Round(4)
	ask = price.Mul(one.Add(factor)).Round(4)
	return bid, ask
}
