// Package monitor 负责持久化运行事件，供监控接口与事后排查使用。
package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"paper-broker/internal/model"
	"paper-broker/internal/store"
)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

func orderPayload(order *model.Order) OrderPayload {
	return OrderPayload{
		OrderID:  order.ID.String(),
		WalletID: order.WalletID.String(),
		Ticker:   order.Ticker,
		Market:   string(order.Market),
		Side:     string(order.Side),
		Type:     string(order.Type),
		Quantity: order.Quantity,
		Status:   string(order.Status),
		Reason:   order.Rejection,
		Signal:   order.Signal,
	}
}

// RecordOrder 按订单状态记录提交、拒绝或撤销事件。
func (s *Service) RecordOrder(ctx context.Context, order *model.Order) {
	eventType := EventOrderSubmitted
	switch order.Status {
	case model.StatusRejected:
		eventType = EventOrderRejected
	case model.StatusCancelled:
		eventType = EventOrderCancelled
	}
	if err := s.Record(ctx, Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   orderPayload(order),
	}); err != nil {
		s.logger.Warn("记录订单事件失败", zap.Error(err))
	}
}

// RecordTrade 记录成交事件。
func (s *Service) RecordTrade(ctx context.Context, trade *model.Trade) {
	if err := s.Record(ctx, Event{
		Type:      EventTradeFilled,
		Timestamp: time.Now().UTC(),
		Payload: TradePayload{
			TradeID:     trade.ID.String(),
			OrderID:     trade.OrderID.String(),
			WalletID:    trade.WalletID.String(),
			Ticker:      trade.Ticker,
			Side:        string(trade.Side),
			Quantity:    trade.Quantity,
			FillPrice:   trade.FillPrice.StringFixed(4),
			Commission:  trade.Commission.StringFixed(2),
			NetAmount:   trade.NetAmount.StringFixed(2),
			SlippageBps: trade.SlippageBps.StringFixed(2),
		},
	}); err != nil {
		s.logger.Warn("记录成交事件失败", zap.Error(err))
	}
}

// RecordCycleSummary 记录单个钱包周期结果。
func (s *Service) RecordCycleSummary(ctx context.Context, summary CycleSummaryPayload) {
	if err := s.Record(ctx, Event{
		Type:      EventCycleSummary,
		Timestamp: time.Now().UTC(),
		Payload:   summary,
	}); err != nil {
		s.logger.Warn("记录周期事件失败", zap.Error(err))
	}
}

// RecordWalletHalted 记录钱包停用。
func (s *Service) RecordWalletHalted(ctx context.Context, walletID, walletName, detail string) {
	if err := s.Record(ctx, Event{
		Type:      EventWalletHalted,
		Timestamp: time.Now().UTC(),
		Payload: WalletHaltedPayload{
			WalletID:   walletID,
			WalletName: walletName,
			Detail:     detail,
		},
	}); err != nil {
		s.logger.Warn("记录停用事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
