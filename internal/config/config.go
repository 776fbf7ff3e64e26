package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "broker"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回一份通过校验的默认配置，供测试与内存模式使用。
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		panic(fmt.Sprintf("config: 默认配置解析失败: %v", err))
	}
	cfg.Database.InMemory = true
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("market_data.provider", "alphavantage")
	v.SetDefault("market_data.base_url", "https://www.alphavantage.co/query")
	v.SetDefault("market_data.request_timeout", "10s")
	v.SetDefault("market_data.cache_ttl", "60s")
	v.SetDefault("market_data.max_quote_age", "5m")
	v.SetDefault("market_data.requests_per_minute", 150)
	v.SetDefault("market_data.spread_bps", 10.0)
	v.SetDefault("market_data.breaker_threshold", 5)
	v.SetDefault("market_data.retry.max_attempts", 3)
	v.SetDefault("market_data.retry.min_delay", "500ms")
	v.SetDefault("market_data.retry.max_delay", "30s")

	v.SetDefault("execution.commission_per_trade", 1.0)
	v.SetDefault("execution.enable_slippage", true)
	v.SetDefault("execution.immediate_fill", true)
	v.SetDefault("execution.fill_timeout", "15s")

	v.SetDefault("risk.max_position_pct", 0.20)
	v.SetDefault("risk.max_concurrent_positions", 5)
	v.SetDefault("risk.min_reserve_pct", 0.10)

	v.SetDefault("strategy.markets", []string{"NASDAQ"})
	v.SetDefault("strategy.min_signal_score", 70.0)
	v.SetDefault("strategy.max_candidates", 5)
	v.SetDefault("strategy.signal_horizon", "24h")
	v.SetDefault("strategy.sizing", SizingEqualWeight)
	v.SetDefault("strategy.percent_per_order", 0.20)
	v.SetDefault("strategy.max_open_order_age", "72h")
	v.SetDefault("strategy.enable_fallback", false)

	v.SetDefault("database.path", "data/paper_broker.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.cycle_interval", "5m")
	v.SetDefault("scheduler.wallet_parallelism", 4)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8090)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
