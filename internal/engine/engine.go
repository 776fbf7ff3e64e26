// Package engine 实现模拟券商的核心账务：订单生命周期、成交结算与钱包一致性。
//
// 所有资金变更都在单个事务内完成，钱包维度串行化由 walletLock 保证。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-broker/internal/config"
	"paper-broker/internal/fill"
	"paper-broker/internal/marketdata"
	"paper-broker/internal/model"
	"paper-broker/internal/risk"
	"paper-broker/internal/store"
)

var (
	// ErrWalletNotFound 表示钱包不存在。
	ErrWalletNotFound = errors.New("engine: 钱包不存在")
	// ErrOrderNotFound 表示订单不存在。
	ErrOrderNotFound = errors.New("engine: 订单不存在")
	// ErrOrderNotActive 表示订单已处于终态，无法撮合或撤销。
	ErrOrderNotActive = errors.New("engine: 订单已终态")
	// ErrWalletHalted 表示钱包因一致性问题被停用。
	ErrWalletHalted = errors.New("engine: 钱包已停用")
)

// Engine 为账务引擎。
type Engine struct {
	store     *store.Store
	quotes    *marketdata.Cache
	filler    *fill.Engine
	validator *risk.Validator
	cfg       config.ExecutionConfig
	mdCfg     config.MarketDataConfig
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

// New 构造账务引擎并初始化表结构。
func New(st *store.Store, quotes *marketdata.Cache, cfg config.ExecutionConfig, mdCfg config.MarketDataConfig, riskCfg config.RiskConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:     st,
		quotes:    quotes,
		filler:    fill.NewEngine(cfg),
		validator: risk.NewValidator(riskCfg),
		cfg:       cfg,
		mdCfg:     mdCfg,
		logger:    logger,
		locks:     make(map[uuid.UUID]*sync.Mutex),
		now:       time.Now,
	}
	if err := e.initSchema(); err != nil {
		return nil, fmt.Errorf("engine: 初始化表结构失败: %w", err)
	}
	return e, nil
}

// walletLock 返回钱包对应的互斥锁，同一钱包的账务操作全程串行。
func (e *Engine) walletLock(walletID uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[walletID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[walletID] = lock
	}
	return lock
}

// CreateWallet 创建钱包。
func (e *Engine) CreateWallet(ctx context.Context, name, capitalTier string, initialBalance decimal.Decimal) (*model.Wallet, error) {
	if !initialBalance.IsPositive() {
		return nil, fmt.Errorf("engine: 初始资金必须为正: %s", initialBalance)
	}
	now := e.now().UTC()
	w := &model.Wallet{
		ID:             uuid.New(),
		Name:           name,
		CapitalTier:    capitalTier,
		InitialBalance: initialBalance,
		CurrentBalance: initialBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.insertWallet(ctx, w); err != nil {
		return nil, err
	}
	e.logger.Info("钱包已创建",
		zap.String("wallet_id", w.ID.String()),
		zap.String("name", name),
		zap.String("initial_balance", initialBalance.StringFixed(2)))
	return w, nil
}

// EnsureWallet 按名称幂等获取或创建钱包，供启动引导使用。
func (e *Engine) EnsureWallet(ctx context.Context, cfg config.WalletConfig) (*model.Wallet, error) {
	w, err := e.getWalletByName(ctx, cfg.Name)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	return e.CreateWallet(ctx, cfg.Name, cfg.CapitalTier, decimal.NewFromFloat(cfg.InitialBalance))
}

// GetWallet 按 ID 查询钱包。
func (e *Engine) GetWallet(ctx context.Context, walletID uuid.UUID) (*model.Wallet, error) {
	return e.getWallet(ctx, e.store.DB(), walletID)
}

// OpenPositions 返回钱包当前的全部持仓。
func (e *Engine) OpenPositions(ctx context.Context, walletID uuid.UUID) ([]model.Position, error) {
	return e.listPositions(ctx, walletID, true)
}

// AllPositions 返回钱包的全部持仓，含已平仓记录。
func (e *Engine) AllPositions(ctx context.Context, walletID uuid.UUID) ([]model.Position, error) {
	return e.listPositions(ctx, walletID, false)
}

// ActiveOrders 返回钱包所有可撮合的订单。
func (e *Engine) ActiveOrders(ctx context.Context, walletID uuid.UUID) ([]*model.Order, error) {
	return e.listOrdersByStatus(ctx, e.store.DB(), walletID,
		model.StatusPending, model.StatusSubmitted, model.StatusPartial)
}

// GetOrder 按 ID 查询订单。
func (e *Engine) GetOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	return e.getOrder(ctx, e.store.DB(), orderID)
}
