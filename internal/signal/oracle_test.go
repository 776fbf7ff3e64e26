package signal

import (
	"context"
	"testing"
	"time"

	"paper-broker/internal/config"
	"paper-broker/internal/model"
	"paper-broker/internal/store"
)

func newTestOracle(t *testing.T) *OracleSource {
	t.Helper()
	cfg := config.Default()
	st, err := store.NewSQLite(cfg.Database)
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	src, err := NewOracleSource(st, config.StrategyConfig{
		MinSignalScore: 70,
		MaxCandidates:  3,
		SignalHorizon:  24 * time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("NewOracleSource returned error: %v", err)
	}
	return src
}

func record(t *testing.T, src *OracleSource, ticker string, market model.Market, score float64, observedAt time.Time) {
	t.Helper()
	err := src.Record(context.Background(), Candidate{
		Ticker:     ticker,
		Market:     market,
		Side:       model.SideBuy,
		Score:      score,
		Source:     "oracle",
		ObservedAt: observedAt,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
}

func TestCandidates_FiltersAndRanks(t *testing.T) {
	src := newTestOracle(t)
	now := time.Now().UTC()

	record(t, src, "AAPL", model.MarketNASDAQ, 85, now.Add(-time.Hour))
	record(t, src, "MSFT", model.MarketNASDAQ, 92, now.Add(-time.Hour))
	record(t, src, "GOOGL", model.MarketNASDAQ, 60, now.Add(-time.Hour))     // 低于评分线
	record(t, src, "AMZN", model.MarketNASDAQ, 88, now.Add(-48*time.Hour))   // 超过时效
	record(t, src, "BHP", model.MarketASX, 95, now.Add(-time.Hour))          // 市场不在范围

	out, err := src.Candidates(context.Background(), []model.Market{model.MarketNASDAQ}, now)
	if err != nil {
		t.Fatalf("Candidates returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(out))
	}
	if out[0].Ticker != "MSFT" || out[1].Ticker != "AAPL" {
		t.Errorf("expected score-descending order [MSFT AAPL], got [%s %s]", out[0].Ticker, out[1].Ticker)
	}
}

func TestCandidates_DeduplicatesTicker(t *testing.T) {
	src := newTestOracle(t)
	now := time.Now().UTC()

	record(t, src, "AAPL", model.MarketNASDAQ, 75, now.Add(-2*time.Hour))
	record(t, src, "AAPL", model.MarketNASDAQ, 90, now.Add(-time.Hour))

	out, err := src.Candidates(context.Background(), []model.Market{model.MarketNASDAQ}, now)
	if err != nil {
		t.Fatalf("Candidates returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected single candidate per ticker, got %d", len(out))
	}
	if out[0].Score != 90 {
		t.Errorf("expected highest score kept, got %.0f", out[0].Score)
	}
}

func TestCandidates_EmptyMarkets(t *testing.T) {
	src := newTestOracle(t)
	out, err := src.Candidates(context.Background(), nil, time.Now())
	if err != nil {
		t.Fatalf("Candidates returned error: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil for empty market list, got %v", out)
	}
}

func TestFallbackSource_FiltersByMarketAndScore(t *testing.T) {
	src := NewFallbackSource(70, 2)
	out, err := src.Candidates(context.Background(), []model.Market{model.MarketNASDAQ, model.MarketNYSE}, time.Now())
	if err != nil {
		t.Fatalf("Candidates returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected truncation to 2 candidates, got %d", len(out))
	}
	for _, c := range out {
		if c.Market != model.MarketNASDAQ && c.Market != model.MarketNYSE {
			t.Errorf("unexpected market %s", c.Market)
		}
		if c.Side != model.SideBuy {
			t.Errorf("fallback entries are buy-only, got %s", c.Side)
		}
	}

	none, err := src.Candidates(context.Background(), []model.Market{model.MarketTSX}, time.Now())
	if err != nil {
		t.Fatalf("Candidates returned error: %v", err)
	}
	// TSX 观察名单条目评分低于 70
	for _, c := range none {
		if c.Score < 70 {
			t.Errorf("candidate below min score leaked: %+v", c)
		}
	}
}
