package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"paper-broker/internal/config"
	"paper-broker/internal/metrics"
	"paper-broker/internal/model"
)

// Cache 在上游行情源之上提供 TTL 缓存、请求限流、退避重试与熔断保护。
// 并发读安全；同一标的的并发刷新经 singleflight 合并，
// 任一时刻每个标的至多一个在途上游请求。
type Cache struct {
	provider Provider
	cfg      config.MarketDataConfig
	logger   *zap.Logger
	breaker  *Breaker
	limiter  *rateWindow
	group    singleflight.Group

	mu      sync.RWMutex
	entries map[string]model.Quote

	now func() time.Time
}

// NewCache 构造行情缓存。
func NewCache(provider Provider, cfg config.MarketDataConfig, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		breaker:  NewBreaker(cfg.BreakerThreshold),
		limiter:  newRateWindow(cfg.RequestsPerMinute),
		entries:  make(map[string]model.Quote),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Breaker 暴露熔断器，供上层查询状态或人工复位。
func (c *Cache) Breaker() *Breaker {
	return c.breaker
}

func cacheKey(ticker string, market model.Market) string {
	return ticker + ":" + string(market)
}

// GetQuote 返回标的的最新行情：缓存未过期直接命中，否则触发刷新。
// 熔断打开期间直接失败，不发起任何上游请求。
func (c *Cache) GetQuote(ctx context.Context, ticker string, market model.Market) (model.Quote, error) {
	return c.get(ctx, ticker, market, false)
}

// GetQuoteAllowStale 与 GetQuote 相同，但在熔断打开时允许返回任意年龄的缓存。
func (c *Cache) GetQuoteAllowStale(ctx context.Context, ticker string, market model.Market) (model.Quote, error) {
	return c.get(ctx, ticker, market, true)
}

func (c *Cache) get(ctx context.Context, ticker string, market model.Market, allowStale bool) (model.Quote, error) {
	key := cacheKey(ticker, market)

	if c.breaker.IsOpen() {
		if allowStale {
			if cached, ok := c.lookup(key); ok {
				c.logger.Warn("熔断打开，返回过期行情",
					zap.String("ticker", ticker),
					zap.Duration("age", cached.Age(c.now())),
				)
				return cached, nil
			}
		}
		return model.Quote{}, fmt.Errorf("%w: %s", ErrCircuitOpen, ticker)
	}

	if cached, ok := c.lookup(key); ok && cached.Age(c.now()) < c.cfg.CacheTTL {
		metrics.QuoteCacheHits.Inc()
		return cached, nil
	}
	metrics.QuoteCacheMisses.Inc()

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// 并发等待者进入时可能已有新鲜数据
		if cached, ok := c.lookup(key); ok && cached.Age(c.now()) < c.cfg.CacheTTL {
			return cached, nil
		}
		return c.refresh(ctx, ticker, market, key)
	})
	if err != nil {
		// 刷新失败时，仍在最大可用时长内的旧行情可以兜底
		if cached, ok := c.lookup(key); ok && cached.Age(c.now()) < c.cfg.MaxQuoteAge {
			c.logger.Warn("行情刷新失败，使用缓存兜底",
				zap.String("ticker", ticker),
				zap.Duration("age", cached.Age(c.now())),
				zap.Error(err),
			)
			return cached, nil
		}
		return model.Quote{}, err
	}

	return result.(model.Quote), nil
}

func (c *Cache) lookup(key string) (model.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	quote, ok := c.entries[key]
	return quote, ok
}

func (c *Cache) storeEntry(key string, quote model.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = quote
}

// refresh 在限流与退避约束下刷新单个标的。
func (c *Cache) refresh(ctx context.Context, ticker string, market model.Market, key string) (model.Quote, error) {
	if err := c.waitBudget(ctx); err != nil {
		return model.Quote{}, err
	}

	quote, err := c.fetchWithRetry(ctx, ticker, market)
	if err != nil {
		if opened := c.breaker.Failure(); opened {
			metrics.CircuitBreakerOpen.Set(1)
			c.logger.Error("行情熔断器已打开",
				zap.Int("consecutive_failures", c.breaker.ConsecutiveFailures()),
				zap.Error(err),
			)
		}
		return model.Quote{}, err
	}

	c.breaker.Success()
	c.storeEntry(key, quote)
	return quote, nil
}

// waitBudget 阻塞等待请求配额，超出预算的请求排队至下一窗口而非静默丢弃。
func (c *Cache) waitBudget(ctx context.Context) error {
	for {
		wait := c.limiter.reserve(c.now())
		if wait <= 0 {
			return nil
		}

		c.logger.Warn("行情请求达到每分钟预算，排队等待", zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("marketdata: 等待请求配额被取消: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Cache) fetchWithRetry(ctx context.Context, ticker string, market model.Market) (model.Quote, error) {
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Quote{}, ctxErr
		}

		quote, err := c.provider.FetchQuote(ctx, ticker, market)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("行情重试后成功",
					zap.String("ticker", ticker),
					zap.Int("attempts", attempt),
				)
			}
			return quote, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return model.Quote{}, err
		}

		if attempt == maxAttempts {
			break
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("行情拉取失败，等待重试",
			zap.String("ticker", ticker),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.Quote{}, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return model.Quote{}, fmt.Errorf("marketdata: %s 重试 %d 次后仍失败: %w", ticker, maxAttempts, lastErr)
}

// ResetBreaker 人工复位熔断器。
func (c *Cache) ResetBreaker() {
	c.breaker.Reset()
	metrics.CircuitBreakerOpen.Set(0)
	c.logger.Info("行情熔断器已复位")
}
