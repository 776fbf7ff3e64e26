// Package signal 定义候选信号来源及其筛选规则。
package signal

import (
	"context"
	"time"

	"paper-broker/internal/model"
)

// Candidate 是一条经过评分的候选信号。
type Candidate struct {
	Ticker     string
	Market     model.Market
	Side       model.OrderSide
	Score      float64
	Source     string
	ObservedAt time.Time
}

// Source 提供按评分降序排列的候选信号。
type Source interface {
	// Candidates 返回满足市场与评分约束的候选，按评分降序。
	Candidates(ctx context.Context, markets []model.Market, asOf time.Time) ([]Candidate, error)
	// Name 返回信号来源标识。
	Name() string
}
