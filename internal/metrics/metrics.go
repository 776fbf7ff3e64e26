// Package metrics 提供引擎的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersSubmitted 统计成功提交的订单，按方向划分。
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_orders_submitted_total",
		Help: "Total orders accepted by the execution engine",
	}, []string{"side"})

	// OrdersRejected 统计被拒绝的订单，按原因码划分。
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_orders_rejected_total",
		Help: "Total orders rejected, partitioned by reason code",
	}, []string{"reason"})

	// TradesFilled 统计成交笔数，按方向划分。
	TradesFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_trades_filled_total",
		Help: "Total trade fills recorded",
	}, []string{"side"})

	// QuoteCacheHits 统计行情缓存命中。
	QuoteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_quote_cache_hits_total",
		Help: "Quote cache hits",
	})

	// QuoteCacheMisses 统计行情缓存未命中。
	QuoteCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_quote_cache_misses_total",
		Help: "Quote cache misses",
	})

	// CircuitBreakerOpen 表示行情熔断器状态，1 为打开。
	CircuitBreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_marketdata_circuit_open",
		Help: "Market data circuit breaker state (1 = open)",
	})

	// CycleDuration 统计单个执行周期耗时。
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_cycle_duration_seconds",
		Help:    "Execution cycle duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HaltedWallets 统计因不变量被破坏而停用的钱包数量。
	HaltedWallets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_halted_wallets",
		Help: "Wallets excluded from automated trading pending reconciliation",
	})
)
