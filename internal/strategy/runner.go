// Package strategy 驱动钱包的自动交易周期：筛选信号、分配仓位、提交并撮合订单。
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"paper-broker/internal/config"
	"paper-broker/internal/engine"
	"paper-broker/internal/marketdata"
	"paper-broker/internal/model"
	"paper-broker/internal/monitor"
	"paper-broker/internal/session"
	"paper-broker/internal/signal"
	"paper-broker/internal/store"
)

// CycleResult 汇总一个钱包单次周期的处理结果。
type CycleResult struct {
	WalletID  string
	Submitted int
	Rejected  int
	Filled    int
	Expired   int
}

// Runner 按周期为单个钱包执行策略。
type Runner struct {
	engine   *engine.Engine
	quotes   *marketdata.Cache
	primary  signal.Source
	fallback signal.Source
	sessions *session.Checker
	monitor  *monitor.Service
	cfg      config.StrategyConfig
	execCfg  config.ExecutionConfig
	riskCfg  config.RiskConfig
	logger   *zap.Logger
	store    *store.Store

	now func() time.Time
}

// NewRunner 构造策略执行器并初始化指标快照表。
func NewRunner(eng *engine.Engine, st *store.Store, quotes *marketdata.Cache,
	primary, fallback signal.Source, sessions *session.Checker, mon *monitor.Service,
	cfg config.StrategyConfig, execCfg config.ExecutionConfig, riskCfg config.RiskConfig,
	logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		engine:   eng,
		quotes:   quotes,
		primary:  primary,
		fallback: fallback,
		sessions: sessions,
		monitor:  mon,
		cfg:      cfg,
		execCfg:  execCfg,
		riskCfg:  riskCfg,
		logger:   logger,
		store:    st,
		now:      time.Now,
	}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("strategy: 初始化指标表失败: %w", err)
	}
	return r, nil
}

// RunCycle 为单个钱包执行一个完整周期：
// 回收超时挂单 → 撮合存量订单 → 筛选信号并提交新订单 → 账务校验 → 快照指标。
func (r *Runner) RunCycle(ctx context.Context, wallet *model.Wallet) (CycleResult, error) {
	start := r.now()
	result := CycleResult{WalletID: wallet.ID.String()}

	if wallet.Halted {
		r.logger.Warn("钱包已停用，跳过本周期",
			zap.String("wallet_id", wallet.ID.String()),
			zap.String("name", wallet.Name))
		return result, nil
	}

	expired, err := r.engine.ExpireStaleOrders(ctx, wallet.ID, r.cfg.MaxOpenOrderAge)
	if err != nil {
		return result, fmt.Errorf("strategy: 回收超时订单失败: %w", err)
	}
	result.Expired = expired

	filled, err := r.fillPass(ctx, wallet)
	if err != nil {
		r.monitor.RecordError(ctx, "存量订单撮合失败", err,
			map[string]interface{}{"wallet": wallet.Name})
	}
	result.Filled += filled

	openMarkets := r.openMarkets()
	if len(openMarkets) > 0 {
		if err := r.enterPass(ctx, wallet, openMarkets, &result); err != nil {
			r.monitor.RecordError(ctx, "信号建仓失败", err,
				map[string]interface{}{"wallet": wallet.Name})
		}
	} else {
		r.logger.Debug("全部市场闭市，跳过建仓",
			zap.String("wallet_id", wallet.ID.String()))
	}

	if err := r.engine.CheckConsistency(ctx, wallet.ID); err != nil {
		if !errors.Is(err, engine.ErrWalletNotFound) {
			r.monitor.RecordWalletHalted(ctx, wallet.ID.String(), wallet.Name, err.Error())
		}
		return result, err
	}

	equity, err := r.snapshotMetrics(ctx, wallet)
	if err != nil {
		r.logger.Warn("写入指标快照失败", zap.Error(err))
	}

	r.monitor.RecordCycleSummary(ctx, monitor.CycleSummaryPayload{
		WalletID:   wallet.ID.String(),
		WalletName: wallet.Name,
		Submitted:  result.Submitted,
		Rejected:   result.Rejected,
		Filled:     result.Filled,
		Expired:    result.Expired,
		Equity:     equity.StringFixed(2),
		DurationMs: r.now().Sub(start).Milliseconds(),
	})
	return result, nil
}

// fillPass 对钱包全部活跃订单尝试撮合，仅处理开市市场的订单。
func (r *Runner) fillPass(ctx context.Context, wallet *model.Wallet) (int, error) {
	orders, err := r.engine.ActiveOrders(ctx, wallet.ID)
	if err != nil {
		return 0, err
	}

	now := r.now()
	filled := 0
	for _, o := range orders {
		if !r.sessions.IsOpen(o.Market, now) {
			continue
		}
		trade, err := r.engine.MatchAndFill(ctx, o.ID)
		if err != nil {
			if errors.Is(err, engine.ErrOrderNotActive) {
				continue
			}
			if errors.Is(err, marketdata.ErrStaleQuote) {
				r.logger.Debug("行情陈旧，订单留待下一周期",
					zap.String("order_id", o.ID.String()),
					zap.String("ticker", o.Ticker))
				continue
			}
			r.logger.Warn("撮合订单失败",
				zap.String("order_id", o.ID.String()),
				zap.String("ticker", o.Ticker),
				zap.Error(err))
			continue
		}
		if trade != nil {
			r.monitor.RecordTrade(ctx, trade)
			filled++
		}
	}
	return filled, nil
}

// enterPass 依据候选信号提交新订单。
func (r *Runner) enterPass(ctx context.Context, wallet *model.Wallet, markets []model.Market, result *CycleResult) error {
	candidates, err := r.candidates(ctx, markets)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	held, pending, err := r.exposures(ctx, wallet)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		if c.Side != model.SideSell && (held[c.Ticker] || pending[c.Ticker]) {
			continue
		}
		if c.Side == model.SideSell && !held[c.Ticker] {
			continue
		}

		intent, ok, err := r.buildIntent(ctx, wallet, c)
		if err != nil {
			r.logger.Warn("构造订单意图失败",
				zap.String("ticker", c.Ticker), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		order, err := r.engine.SubmitOrder(ctx, intent)
		if err != nil {
			r.logger.Warn("提交订单失败",
				zap.String("ticker", c.Ticker), zap.Error(err))
			continue
		}
		r.monitor.RecordOrder(ctx, order)

		if order.Status == model.StatusRejected {
			result.Rejected++
			continue
		}
		result.Submitted++
		pending[c.Ticker] = true

		// 刷新钱包快照，后续候选以最新冻结余额计算仓位
		wallet, err = r.engine.GetWallet(ctx, wallet.ID)
		if err != nil {
			return err
		}

		if r.execCfg.ImmediateFill {
			trade, err := r.engine.MatchAndFill(ctx, order.ID)
			if err != nil {
				r.logger.Warn("即时撮合失败",
					zap.String("order_id", order.ID.String()), zap.Error(err))
				continue
			}
			if trade != nil {
				r.monitor.RecordTrade(ctx, trade)
				result.Filled++
			}
		}
	}
	return nil
}

// candidates 先取主信号源，空结果且允许兜底时改用兜底源。
func (r *Runner) candidates(ctx context.Context, markets []model.Market) ([]signal.Candidate, error) {
	asOf := r.now()
	out, err := r.primary.Candidates(ctx, markets, asOf)
	if err != nil {
		return nil, fmt.Errorf("strategy: 获取候选信号失败: %w", err)
	}
	if len(out) == 0 && r.cfg.EnableFallback && r.fallback != nil {
		out, err = r.fallback.Candidates(ctx, markets, asOf)
		if err != nil {
			return nil, fmt.Errorf("strategy: 获取兜底信号失败: %w", err)
		}
		if len(out) > 0 {
			r.logger.Info("主信号为空，使用兜底观察名单", zap.Int("count", len(out)))
		}
	}
	return out, nil
}

// exposures 返回已持仓与已有活跃订单的标的集合。
func (r *Runner) exposures(ctx context.Context, wallet *model.Wallet) (held, pending map[string]bool, err error) {
	positions, err := r.engine.OpenPositions(ctx, wallet.ID)
	if err != nil {
		return nil, nil, err
	}
	orders, err := r.engine.ActiveOrders(ctx, wallet.ID)
	if err != nil {
		return nil, nil, err
	}

	held = make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Ticker] = true
	}
	pending = make(map[string]bool, len(orders))
	for _, o := range orders {
		pending[o.Ticker] = true
	}
	return held, pending, nil
}

// openMarkets 返回配置市场中当前处于交易时段的子集。
func (r *Runner) openMarkets() []model.Market {
	now := r.now()
	var out []model.Market
	for _, m := range r.cfg.Markets {
		market := model.Market(m)
		if r.sessions.IsOpen(market, now) {
			out = append(out, market)
		}
	}
	return out
}
