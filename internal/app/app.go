// Package app 聚合依赖并驱动系统生命周期。
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"paper-broker/internal/config"
	"paper-broker/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 初始化全部组件后进入周期循环，直到上下文取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("模拟券商已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Strings("markets", a.cfg.Strategy.Markets),
		zap.Int("wallets", len(a.cfg.Wallets)),
	)

	orch, err := newOrchestrator(a.cfg, a.logger, a.store)
	if err != nil {
		return err
	}

	if err := orch.bootstrapWallets(ctx, a.cfg.Wallets); err != nil {
		return fmt.Errorf("引导钱包失败: %w", err)
	}

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, orch.Monitor(), a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	loopInterval := a.cfg.Scheduler.CycleInterval
	if loopInterval <= 0 {
		loopInterval = 5 * time.Minute
	}

	if err = orch.Tick(ctx); err != nil {
		a.logger.Error("首次执行失败", zap.Error(err))
	}

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err = orch.Tick(ctx); err != nil {
				a.logger.Error("执行调度失败", zap.Error(err))
			}
		}
	}
}
