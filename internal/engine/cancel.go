package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-broker/internal/model"
)

// CancelOrder 撤销活跃订单并释放其剩余冻结资金。
// 已部分成交的订单保留成交部分，仅撤销未成交数量。
func (e *Engine) CancelOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	order, err := e.getOrder(ctx, e.store.DB(), orderID)
	if err != nil {
		return nil, err
	}

	lock := e.walletLock(order.WalletID)
	lock.Lock()
	defer lock.Unlock()

	now := e.now().UTC()
	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		order, err = e.getOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.IsActive() {
			return ErrOrderNotActive
		}

		if order.ReservedAmount.IsPositive() {
			wallet, err := e.getWallet(ctx, tx, order.WalletID)
			if err != nil {
				return err
			}
			wallet.ReservedBalance = clampZero(wallet.ReservedBalance.Sub(order.ReservedAmount))
			wallet.UpdatedAt = now
			if err := e.updateWalletTx(ctx, tx, wallet); err != nil {
				return err
			}
		}

		order.ReservedAmount = decimal.Zero
		order.Status = model.StatusCancelled
		order.CancelledAt = now
		order.UpdatedAt = now
		return e.updateOrderTx(ctx, tx, order)
	})
	if err != nil {
		if err == ErrOrderNotActive {
			return nil, err
		}
		return nil, fmt.Errorf("engine: 撤销订单失败: %w", err)
	}

	e.logger.Info("订单已撤销",
		zap.String("order_id", order.ID.String()),
		zap.String("ticker", order.Ticker),
		zap.Int64("filled_quantity", order.FilledQuantity),
		zap.Int64("cancelled_quantity", order.Quantity-order.FilledQuantity))
	return order, nil
}

// ExpireStaleOrders 撤销挂单时间超过 maxAge 的活跃订单，返回撤销数量。
// 限价永不触及的订单由此路径回收冻结资金。
func (e *Engine) ExpireStaleOrders(ctx context.Context, walletID uuid.UUID, maxAge time.Duration) (int, error) {
	orders, err := e.ActiveOrders(ctx, walletID)
	if err != nil {
		return 0, err
	}

	now := e.now()
	expired := 0
	for _, o := range orders {
		if now.Sub(o.CreatedAt) <= maxAge {
			continue
		}
		if _, err := e.CancelOrder(ctx, o.ID); err != nil {
			if err == ErrOrderNotActive {
				continue
			}
			return expired, err
		}
		e.logger.Info("订单超时撤销",
			zap.String("order_id", o.ID.String()),
			zap.String("ticker", o.Ticker),
			zap.Duration("age", now.Sub(o.CreatedAt)))
		expired++
	}
	return expired, nil
}
