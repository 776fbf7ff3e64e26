package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"paper-broker/internal/config"
	"paper-broker/internal/engine"
	"paper-broker/internal/marketdata"
	"paper-broker/internal/metrics"
	"paper-broker/internal/monitor"
	"paper-broker/internal/session"
	"paper-broker/internal/signal"
	"paper-broker/internal/store"
	"paper-broker/internal/strategy"
)

// orchestrator 把所有组件串成一条执行链，并在每个周期并行处理各钱包。
type orchestrator struct {
	engine      *engine.Engine
	runner      *strategy.Runner
	monitor     *monitor.Service
	logger      *zap.Logger
	parallelism int
}

func (o *orchestrator) Monitor() *monitor.Service {
	return o.monitor
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger, st *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider, err := marketdata.NewProvider(cfg.MarketData, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	quotes := marketdata.NewCache(provider, cfg.MarketData, logger)

	eng, err := engine.New(st, quotes, cfg.Execution, cfg.MarketData, cfg.Risk, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化账务引擎失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	sessions, err := session.NewChecker()
	if err != nil {
		return nil, fmt.Errorf("初始化市场时段检查失败: %w", err)
	}

	oracle, err := signal.NewOracleSource(st, cfg.Strategy, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化信号来源失败: %w", err)
	}
	var fallback signal.Source
	if cfg.Strategy.EnableFallback {
		fallback = signal.NewFallbackSource(cfg.Strategy.MinSignalScore, cfg.Strategy.MaxCandidates)
	}

	runner, err := strategy.NewRunner(eng, st, quotes, oracle, fallback, sessions, monitorSvc,
		cfg.Strategy, cfg.Execution, cfg.Risk, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化策略执行器失败: %w", err)
	}

	parallelism := cfg.Scheduler.WalletParallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	return &orchestrator{
		engine:      eng,
		runner:      runner,
		monitor:     monitorSvc,
		logger:      logger,
		parallelism: parallelism,
	}, nil
}

// bootstrapWallets 保证配置声明的钱包存在，重复启动不会重建。
func (o *orchestrator) bootstrapWallets(ctx context.Context, wallets []config.WalletConfig) error {
	for _, wc := range wallets {
		w, err := o.engine.EnsureWallet(ctx, wc)
		if err != nil {
			return err
		}
		o.logger.Info("钱包就绪",
			zap.String("wallet_id", w.ID.String()),
			zap.String("name", w.Name),
			zap.String("balance", w.CurrentBalance.StringFixed(2)))
	}
	return nil
}

// Tick 执行一个完整周期：各钱包并行跑策略，单个钱包失败不中断其余钱包。
func (o *orchestrator) Tick(ctx context.Context) error {
	start := time.Now()
	wallets, err := o.engine.ListWallets(ctx)
	if err != nil {
		return fmt.Errorf("查询钱包列表失败: %w", err)
	}

	halted := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for _, w := range wallets {
		if w.Halted {
			halted++
			continue
		}
		wallet := w
		g.Go(func() error {
			result, err := o.runner.RunCycle(gctx, wallet)
			if err != nil {
				// 记录后吞掉错误，避免一个钱包拖垮整批
				o.logger.Error("钱包周期执行失败",
					zap.String("wallet_id", wallet.ID.String()),
					zap.String("name", wallet.Name),
					zap.Error(err))
				return nil
			}
			o.logger.Info("钱包周期完成",
				zap.String("name", wallet.Name),
				zap.Int("submitted", result.Submitted),
				zap.Int("rejected", result.Rejected),
				zap.Int("filled", result.Filled),
				zap.Int("expired", result.Expired))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	metrics.HaltedWallets.Set(float64(halted))
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	o.logger.Info("调度周期完成",
		zap.Int("wallets", len(wallets)),
		zap.Int("halted", halted),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
