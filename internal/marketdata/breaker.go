package marketdata

import "sync"

// Breaker 跨标的统计连续失败次数，达到阈值后打开，
// 打开期间所有上游调用快速失败，直到显式 Reset。
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	open        bool
}

// NewBreaker 构造熔断器。
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &Breaker{threshold: threshold}
}

// Failure 记录一次失败，返回本次是否触发熔断。
func (b *Breaker) Failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if !b.open && b.consecutive >= b.threshold {
		b.open = true
		return true
	}
	return false
}

// Success 记录一次成功，清零连续失败计数。
// 已打开的熔断器不会因成功自动闭合。
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		b.consecutive = 0
	}
}

// IsOpen 返回熔断器是否处于打开状态。
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// ConsecutiveFailures 返回当前连续失败次数。
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}

// Reset 人工复位熔断器。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.consecutive = 0
}
