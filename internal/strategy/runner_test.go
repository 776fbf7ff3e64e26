package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"paper-broker/internal/config"
	"paper-broker/internal/engine"
	"paper-broker/internal/marketdata"
	"paper-broker/internal/model"
	"paper-broker/internal/monitor"
	"paper-broker/internal/session"
	"paper-broker/internal/signal"
	"paper-broker/internal/store"
)

// 2026-03-04 周三 12:00 纽约时间，美股开盘中。
var marketOpenTime = time.Date(2026, 3, 4, 17, 0, 0, 0, time.UTC)

// 周六，所有市场闭市。
var weekendTime = time.Date(2026, 3, 7, 17, 0, 0, 0, time.UTC)

type testHarness struct {
	runner   *Runner
	engine   *engine.Engine
	oracle   *signal.OracleSource
	provider *marketdata.MockProvider
	store    *store.Store
}

func newTestHarness(t *testing.T, mutate ...func(*config.Config)) *testHarness {
	t.Helper()

	cfg := config.Default()
	cfg.MarketData.SpreadBps = 0
	cfg.Execution.EnableSlippage = false
	cfg.Execution.ImmediateFill = true
	for _, fn := range mutate {
		fn(cfg)
	}

	st, err := store.NewSQLite(cfg.Database)
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	provider := marketdata.NewMockProvider(cfg.MarketData.SpreadBps)
	quotes := marketdata.NewCache(provider, cfg.MarketData, nil)

	eng, err := engine.New(st, quotes, cfg.Execution, cfg.MarketData, cfg.Risk, nil)
	if err != nil {
		t.Fatalf("engine.New returned error: %v", err)
	}

	mon, err := monitor.NewService(st, nil)
	if err != nil {
		t.Fatalf("monitor.NewService returned error: %v", err)
	}

	sessions, err := session.NewChecker()
	if err != nil {
		t.Fatalf("session.NewChecker returned error: %v", err)
	}

	oracle, err := signal.NewOracleSource(st, cfg.Strategy, nil)
	if err != nil {
		t.Fatalf("signal.NewOracleSource returned error: %v", err)
	}
	fallback := signal.NewFallbackSource(cfg.Strategy.MinSignalScore, cfg.Strategy.MaxCandidates)

	runner, err := NewRunner(eng, st, quotes, oracle, fallback, sessions, mon,
		cfg.Strategy, cfg.Execution, cfg.Risk, nil)
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	runner.now = func() time.Time { return marketOpenTime }

	return &testHarness{
		runner:   runner,
		engine:   eng,
		oracle:   oracle,
		provider: provider,
		store:    st,
	}
}

func (h *testHarness) wallet(t *testing.T, balance string) *model.Wallet {
	t.Helper()
	w, err := h.engine.CreateWallet(context.Background(), "cycle-wallet", "small", decimal.RequireFromString(balance))
	if err != nil {
		t.Fatalf("CreateWallet returned error: %v", err)
	}
	return w
}

func (h *testHarness) recordSignal(t *testing.T, ticker string, score float64) {
	t.Helper()
	err := h.oracle.Record(context.Background(), signal.Candidate{
		Ticker:     ticker,
		Market:     model.MarketNASDAQ,
		Side:       model.SideBuy,
		Score:      score,
		Source:     "oracle",
		ObservedAt: marketOpenTime.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("recording signal failed: %v", err)
	}
}

func TestRunCycle_SubmitsAndFillsFromSignal(t *testing.T) {
	h := newTestHarness(t)
	h.provider.SetPrice("AAPL", decimal.RequireFromString("180.50"))
	w := h.wallet(t, "10000")
	h.recordSignal(t, "AAPL", 85)
	ctx := context.Background()

	result, err := h.runner.RunCycle(ctx, w)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.Submitted != 1 {
		t.Fatalf("expected 1 submission, got %d (rejected=%d)", result.Submitted, result.Rejected)
	}
	if result.Filled != 1 {
		t.Fatalf("expected immediate fill, got %d", result.Filled)
	}

	positions, err := h.engine.OpenPositions(ctx, w.ID)
	if err != nil {
		t.Fatalf("OpenPositions returned error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected one position, got %d", len(positions))
	}
	// equal_weight: (9000/5 − $1 佣金) = 1799 → 9 股 @ 180.50
	if positions[0].Quantity != 9 {
		t.Errorf("expected 9 shares, got %d", positions[0].Quantity)
	}

	w, _ = h.engine.GetWallet(ctx, w.ID)
	// 10000 − (9×180.50 + 1) = 8374.50
	if got := w.CurrentBalance.StringFixed(2); got != "8374.50" {
		t.Errorf("expected cash 8374.50, got %s", got)
	}

	// 同一信号下一周期不再重复建仓
	second, err := h.runner.RunCycle(ctx, w)
	if err != nil {
		t.Fatalf("second RunCycle returned error: %v", err)
	}
	if second.Submitted != 0 {
		t.Errorf("held ticker must not be re-entered, got %d submissions", second.Submitted)
	}
}

func TestRunCycle_SkipsWhenMarketsClosed(t *testing.T) {
	h := newTestHarness(t)
	h.runner.now = func() time.Time { return weekendTime }
	w := h.wallet(t, "10000")
	h.recordSignal(t, "AAPL", 85)

	result, err := h.runner.RunCycle(context.Background(), w)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.Submitted != 0 {
		t.Errorf("closed markets must not submit, got %d", result.Submitted)
	}
}

func TestRunCycle_SkipsHaltedWallet(t *testing.T) {
	h := newTestHarness(t)
	w := h.wallet(t, "10000")
	h.recordSignal(t, "AAPL", 85)
	w.Halted = true

	result, err := h.runner.RunCycle(context.Background(), w)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.Submitted != 0 || result.Filled != 0 {
		t.Errorf("halted wallet must be skipped entirely, got %+v", result)
	}
}

func TestRunCycle_UsesFallbackWhenOracleEmpty(t *testing.T) {
	h := newTestHarness(t, func(cfg *config.Config) {
		cfg.Strategy.EnableFallback = true
	})
	w := h.wallet(t, "10000")

	result, err := h.runner.RunCycle(context.Background(), w)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.Submitted == 0 {
		t.Error("expected fallback watchlist to produce submissions")
	}
}

func TestBuildIntent_SellClosesFullPosition(t *testing.T) {
	h := newTestHarness(t)
	h.provider.SetPrice("AAPL", decimal.RequireFromString("100"))
	w := h.wallet(t, "10000")
	ctx := context.Background()

	buy, err := h.engine.SubmitOrder(ctx, model.OrderIntent{
		WalletID: w.ID, Ticker: "AAPL", Market: model.MarketNASDAQ,
		Side: model.SideBuy, Type: model.OrderMarket, Quantity: 10,
	})
	if err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}
	if _, err := h.engine.MatchAndFill(ctx, buy.ID); err != nil {
		t.Fatalf("MatchAndFill returned error: %v", err)
	}
	w, _ = h.engine.GetWallet(ctx, w.ID)

	intent, ok, err := h.runner.buildIntent(ctx, w, signal.Candidate{
		Ticker: "AAPL", Market: model.MarketNASDAQ, Side: model.SideSell, Score: 80,
	})
	if err != nil {
		t.Fatalf("buildIntent returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected sell intent for held ticker")
	}
	if intent.Quantity != 10 {
		t.Errorf("sell must close full position, got %d", intent.Quantity)
	}
	if intent.Side != model.SideSell || intent.Type != model.OrderMarket {
		t.Errorf("unexpected intent: %+v", intent)
	}

	// 未持仓的卖出信号直接放弃
	_, ok, err = h.runner.buildIntent(ctx, w, signal.Candidate{
		Ticker: "MSFT", Market: model.MarketNASDAQ, Side: model.SideSell, Score: 80,
	})
	if err != nil {
		t.Fatalf("buildIntent returned error: %v", err)
	}
	if ok {
		t.Error("sell without position must be dropped")
	}
}

func TestOrderBudget_PercentSizing(t *testing.T) {
	h := newTestHarness(t, func(cfg *config.Config) {
		cfg.Strategy.Sizing = config.SizingPercentBuyingPower
		cfg.Strategy.PercentPerOrder = 0.15
	})
	w := h.wallet(t, "10000")

	budget, err := h.runner.orderBudget(context.Background(), w)
	if err != nil {
		t.Fatalf("orderBudget returned error: %v", err)
	}
	// 10000×0.15 − $1 佣金
	if got := budget.StringFixed(2); got != "1499.00" {
		t.Errorf("expected budget 1499.00, got %s", got)
	}
}

func TestSnapshotMetrics_DailyUpsert(t *testing.T) {
	h := newTestHarness(t)
	w := h.wallet(t, "10000")
	ctx := context.Background()

	equity, err := h.runner.snapshotMetrics(ctx, w)
	if err != nil {
		t.Fatalf("snapshotMetrics returned error: %v", err)
	}
	if got := equity.StringFixed(2); got != "10000.00" {
		t.Errorf("expected equity 10000.00, got %s", got)
	}
	// 同日重复快照覆写同一行
	if _, err := h.runner.snapshotMetrics(ctx, w); err != nil {
		t.Fatalf("second snapshot returned error: %v", err)
	}

	countRows := func() int {
		var count int
		if err := h.store.DB().QueryRow(
			`SELECT COUNT(*) FROM strategy_metrics WHERE wallet_id = ?`, w.ID.String()).Scan(&count); err != nil {
			t.Fatalf("counting snapshots failed: %v", err)
		}
		return count
	}
	if got := countRows(); got != 1 {
		t.Fatalf("expected single row for same-day snapshots, got %d", got)
	}

	// 跨日快照各自留存，历史不被覆盖
	h.runner.now = func() time.Time { return marketOpenTime.Add(24 * time.Hour) }
	if _, err := h.runner.snapshotMetrics(ctx, w); err != nil {
		t.Fatalf("next-day snapshot returned error: %v", err)
	}
	if got := countRows(); got != 2 {
		t.Errorf("expected one row per day, got %d", got)
	}

	var dates int
	if err := h.store.DB().QueryRow(
		`SELECT COUNT(DISTINCT date) FROM strategy_metrics WHERE wallet_id = ?`, w.ID.String()).Scan(&dates); err != nil {
		t.Fatalf("counting distinct dates failed: %v", err)
	}
	if dates != 2 {
		t.Errorf("expected 2 distinct snapshot dates, got %d", dates)
	}
}
