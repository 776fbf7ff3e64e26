package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Wallets    []WalletConfig   `mapstructure:"wallets"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// WalletConfig 描述启动时需要保证存在的钱包。
type WalletConfig struct {
	Name           string  `mapstructure:"name"`
	CapitalTier    string  `mapstructure:"capital_tier"`
	InitialBalance float64 `mapstructure:"initial_balance"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// MarketDataConfig 描述行情源及缓存行为。
type MarketDataConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	MaxQuoteAge       time.Duration `mapstructure:"max_quote_age"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	SpreadBps         float64       `mapstructure:"spread_bps"`
	BreakerThreshold  int           `mapstructure:"breaker_threshold"`
	Retry             RetryConfig   `mapstructure:"retry"`
}

// ExecutionConfig 控制成交模拟行为。
type ExecutionConfig struct {
	CommissionPerTrade float64       `mapstructure:"commission_per_trade"`
	EnableSlippage     bool          `mapstructure:"enable_slippage"`
	ImmediateFill      bool          `mapstructure:"immediate_fill"`
	FillTimeout        time.Duration `mapstructure:"fill_timeout"`
}

// RiskConfig 管理风控阈值。
type RiskConfig struct {
	MaxPositionPct         float64 `mapstructure:"max_position_pct"`
	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions"`
	MinReservePct          float64 `mapstructure:"min_reserve_pct"`
}

// StrategyConfig 控制信号筛选与仓位分配。
type StrategyConfig struct {
	Markets         []string      `mapstructure:"markets"`
	MinSignalScore  float64       `mapstructure:"min_signal_score"`
	MaxCandidates   int           `mapstructure:"max_candidates"`
	SignalHorizon   time.Duration `mapstructure:"signal_horizon"`
	Sizing          string        `mapstructure:"sizing"`
	PercentPerOrder float64       `mapstructure:"percent_per_order"`
	MaxOpenOrderAge time.Duration `mapstructure:"max_open_order_age"`
	EnableFallback  bool          `mapstructure:"enable_fallback"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	CycleInterval     time.Duration `mapstructure:"cycle_interval"`
	WalletParallelism int           `mapstructure:"wallet_parallelism"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// SizingEqualWeight 与 SizingPercentBuyingPower 为受支持的仓位分配策略。
const (
	SizingEqualWeight        = "equal_weight"
	SizingPercentBuyingPower = "percent_of_buying_power"
)

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	for i, w := range c.Wallets {
		if w.Name == "" {
			err = multierr.Append(err, fmt.Errorf("wallets[%d].name 不能为空", i))
		}
		if w.InitialBalance <= 0 {
			err = multierr.Append(err, fmt.Errorf("wallets[%d].initial_balance 必须大于0", i))
		}
	}
	if c.MarketData.Provider == "" {
		err = multierr.Append(err, errors.New("market_data.provider 不能为空"))
	}
	if c.MarketData.CacheTTL <= 0 {
		err = multierr.Append(err, errors.New("market_data.cache_ttl 必须大于0"))
	}
	if c.MarketData.MaxQuoteAge <= 0 {
		err = multierr.Append(err, errors.New("market_data.max_quote_age 必须大于0"))
	}
	if c.MarketData.RequestsPerMinute <= 0 {
		err = multierr.Append(err, errors.New("market_data.requests_per_minute 必须大于0"))
	}
	if c.MarketData.SpreadBps < 0 {
		err = multierr.Append(err, errors.New("market_data.spread_bps 不能为负"))
	}
	if c.MarketData.BreakerThreshold <= 0 {
		err = multierr.Append(err, errors.New("market_data.breaker_threshold 必须大于0"))
	}
	if c.MarketData.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("market_data.retry.max_attempts 必须大于0"))
	}
	if c.MarketData.Retry.MinDelay <= 0 || c.MarketData.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("market_data.retry.delay 必须为正"))
	}
	if c.MarketData.Retry.MinDelay > c.MarketData.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("market_data.retry.min_delay 不能大于 max_delay"))
	}
	if c.Execution.CommissionPerTrade < 0 {
		err = multierr.Append(err, errors.New("execution.commission_per_trade 不能为负"))
	}
	if c.Execution.FillTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.fill_timeout 必须大于0"))
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		err = multierr.Append(err, errors.New("risk.max_position_pct 必须位于(0,1]"))
	}
	if c.Risk.MaxConcurrentPositions <= 0 {
		err = multierr.Append(err, errors.New("risk.max_concurrent_positions 必须大于0"))
	}
	if c.Risk.MinReservePct < 0 || c.Risk.MinReservePct >= 1 {
		err = multierr.Append(err, errors.New("risk.min_reserve_pct 必须位于[0,1)"))
	}
	if len(c.Strategy.Markets) == 0 {
		err = multierr.Append(err, errors.New("strategy.markets 至少包含一个市场"))
	}
	if c.Strategy.MaxCandidates <= 0 {
		err = multierr.Append(err, errors.New("strategy.max_candidates 必须大于0"))
	}
	if c.Strategy.SignalHorizon <= 0 {
		err = multierr.Append(err, errors.New("strategy.signal_horizon 必须大于0"))
	}
	switch c.Strategy.Sizing {
	case SizingEqualWeight:
	case SizingPercentBuyingPower:
		if c.Strategy.PercentPerOrder <= 0 || c.Strategy.PercentPerOrder > 1 {
			err = multierr.Append(err, errors.New("strategy.percent_per_order 必须位于(0,1]"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("strategy.sizing 不支持 %q", c.Strategy.Sizing))
	}
	if c.Strategy.MaxOpenOrderAge <= 0 {
		err = multierr.Append(err, errors.New("strategy.max_open_order_age 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.CycleInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.cycle_interval 必须大于0"))
	}
	if c.Scheduler.WalletParallelism <= 0 {
		err = multierr.Append(err, errors.New("scheduler.wallet_parallelism 必须大于0"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
