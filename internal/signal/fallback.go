package signal

import (
	"context"
	"time"

	"paper-broker/internal/model"
)

// fallbackEntry 是兜底观察名单中的一项。
type fallbackEntry struct {
	ticker string
	market model.Market
	score  float64
}

// 信号表为空时使用的静态观察名单，评分固定在达标线附近。
var fallbackWatchlist = []fallbackEntry{
	{"AAPL", model.MarketNASDAQ, 82},
	{"MSFT", model.MarketNASDAQ, 80},
	{"SPY", model.MarketNYSE, 78},
	{"BHP", model.MarketASX, 75},
	{"SHOP", model.MarketTSX, 74},
}

// FallbackSource 在外部信号缺失时提供静态候选，保证周期不空转。
type FallbackSource struct {
	minScore float64
	max      int
}

// NewFallbackSource 构造兜底信号来源。
func NewFallbackSource(minScore float64, maxCandidates int) *FallbackSource {
	return &FallbackSource{minScore: minScore, max: maxCandidates}
}

// Name 实现 Source 接口。
func (s *FallbackSource) Name() string { return "fallback" }

// Candidates 返回观察名单中属于给定市场且评分达标的条目。
func (s *FallbackSource) Candidates(_ context.Context, markets []model.Market, asOf time.Time) ([]Candidate, error) {
	allowed := make(map[model.Market]bool, len(markets))
	for _, m := range markets {
		allowed[m] = true
	}

	var out []Candidate
	for _, e := range fallbackWatchlist {
		if !allowed[e.market] || e.score < s.minScore {
			continue
		}
		out = append(out, Candidate{
			Ticker:     e.ticker,
			Market:     e.market,
			Side:       model.SideBuy,
			Score:      e.score,
			Source:     s.Name(),
			ObservedAt: asOf,
		})
		if s.max > 0 && len(out) >= s.max {
			break
		}
	}
	return out, nil
}

var _ Source = (*FallbackSource)(nil)
