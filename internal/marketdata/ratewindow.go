package marketdata

import (
	"sync"
	"time"
)

// rateWindow 以固定一分钟窗口限制上游请求量。
// 计数器由显式的窗口轮转清零，不依赖任何全局状态。
type rateWindow struct {
	mu          sync.Mutex
	budget      int
	windowStart time.Time
	used        int
}

func newRateWindow(budget int) *rateWindow {
	if budget <= 0 {
		budget = 60
	}
	return &rateWindow{budget: budget}
}

// reserve 尝试占用一个请求配额。
// 返回 0 表示立即可用，否则返回距下一窗口开启的等待时长。
func (r *rateWindow) reserve(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.windowStart.IsZero() || now.Sub(r.windowStart) >= time.Minute {
		r.windowStart = now
		r.used = 0
	}

	if r.used < r.budget {
		r.used++
		return 0
	}

	return r.windowStart.Add(time.Minute).Sub(now)
}
