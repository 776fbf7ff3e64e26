package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"paper-broker/internal/config"
	"paper-broker/internal/model"
	"paper-broker/internal/store"
)

// OracleSource 从本地信号表读取外部系统写入的评分信号。
type OracleSource struct {
	store  *store.Store
	cfg    config.StrategyConfig
	logger *zap.Logger
}

// NewOracleSource 构造信号表来源并初始化表结构。
func NewOracleSource(st *store.Store, cfg config.StrategyConfig, logger *zap.Logger) (*OracleSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &OracleSource{
		store:  st,
		cfg:    cfg,
		logger: logger,
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("signal: 初始化信号表失败: %w", err)
	}
	return s, nil
}

func (s *OracleSource) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker TEXT NOT NULL,
	market TEXT NOT NULL,
	side TEXT NOT NULL DEFAULT 'BUY',
	score REAL NOT NULL,
	source TEXT NOT NULL DEFAULT 'oracle',
	observed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_observed ON signals(observed_at);
CREATE INDEX IF NOT EXISTS idx_signals_market_score ON signals(market, score);
`
	_, err := s.store.DB().Exec(schema)
	return err
}

// Name 实现 Source 接口。
func (s *OracleSource) Name() string { return "oracle" }

// Candidates 返回指定市场中评分达标且未过期的信号，按评分降序截断。
func (s *OracleSource) Candidates(ctx context.Context, markets []model.Market, asOf time.Time) ([]Candidate, error) {
	if len(markets) == 0 {
		return nil, nil
	}

	placeholders := make([]string, 0, len(markets))
	args := make([]interface{}, 0, len(markets)+3)
	for _, m := range markets {
		placeholders = append(placeholders, "?")
		args = append(args, string(m))
	}
	args = append(args, s.cfg.MinSignalScore, asOf.Add(-s.cfg.SignalHorizon), s.cfg.MaxCandidates)

	query := fmt.Sprintf(`
SELECT ticker, market, side, score, source, observed_at
FROM signals
WHERE market IN (%s) AND score >= ? AND observed_at >= ?
ORDER BY score DESC, observed_at DESC
LIMIT ?`, strings.Join(placeholders, ","))

	rows, err := s.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("signal: 查询候选信号失败: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	seen := make(map[string]bool)
	for rows.Next() {
		var c Candidate
		var market, side string
		if err := rows.Scan(&c.Ticker, &market, &side, &c.Score, &c.Source, &c.ObservedAt); err != nil {
			return nil, fmt.Errorf("signal: 读取候选信号失败: %w", err)
		}
		// 同一标的只保留评分最高的一条
		if seen[c.Ticker] {
			continue
		}
		seen[c.Ticker] = true
		c.Market = model.Market(market)
		c.Side = model.OrderSide(side)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signal: 遍历候选信号失败: %w", err)
	}
	return out, nil
}

// Record 写入一条信号，供测试与外部投递使用。
func (s *OracleSource) Record(ctx context.Context, c Candidate) error {
	_, err := s.store.DB().ExecContext(ctx, `
INSERT INTO signals (ticker, market, side, score, source, observed_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		c.Ticker, string(c.Market), string(c.Side), c.Score, c.Source, c.ObservedAt)
	if err != nil {
		return fmt.Errorf("signal: 写入信号失败: %w", err)
	}
	return nil
}

var _ Source = (*OracleSource)(nil)
