package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/settlement-system/internal/model"
	"github.com/mmeshcher/settlement-system/internal/repository"
)

// Машина состояний расчётов по заказу управляется только методами этого файла.
// Все три обработчика событий идемпотентны и безопасны при повторной доставке
// и нарушении порядка событий: источником истины служит settlement_status заказа.

// OnPaymentConfirmed зачисляет долю продавца в pending-баланс по оплаченному заказу.
// Повторный вызов для того же заказа — no-op. Опоздавшее подтверждение оплаты
// по отменённому, возвращённому или сторнированному заказу не зачисляется:
// событие подтверждается без эффекта, чтобы источник не повторял доставку.
func (s *Service) OnPaymentConfirmed(ctx context.Context, orderID string) error {
	err := s.repo.CreditPending(ctx, orderID)
	switch {
	case errors.Is(err, repository.ErrAlreadyCredited):
		s.logger.Info("duplicate payment credit skipped", zap.String("order", orderID))
		return nil
	case errors.Is(err, repository.ErrAlreadyReversed):
		s.logger.Info("payment credit for reversed order skipped", zap.String("order", orderID))
		return nil
	case errors.Is(err, repository.ErrOrderClosed):
		s.logger.Warn("payment confirmed for closed order, credit skipped", zap.String("order", orderID))
		return nil
	}
	return err
}

// ConfirmPayment фиксирует подтверждение оплаты заказа платёжным шлюзом
// и зачисляет долю продавца. Повторная доставка события безопасна.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) error {
	if err := s.repo.MarkOrderPaid(ctx, orderID); err != nil {
		return err
	}
	return s.OnPaymentConfirmed(ctx, orderID)
}

// OnOrderDelivered переносит долю продавца из pending в available.
// Для COD-заказов тем же шагом подтверждается оплата и выполняется зачисление.
// Повторный вызов для того же заказа — no-op.
func (s *Service) OnOrderDelivered(ctx context.Context, orderID string) error {
	err := s.repo.ReleaseToAvailable(ctx, orderID)
	if errors.Is(err, repository.ErrAlreadyReleased) {
		s.logger.Info("duplicate delivery release skipped", zap.String("order", orderID))
		return nil
	}
	return err
}

// OnOrderDispatched фиксирует передачу заказа курьеру. На расчёты не влияет.
func (s *Service) OnOrderDispatched(ctx context.Context, orderID string) error {
	return s.repo.UpdateOrderStatus(ctx, orderID, model.OrderDispatched)
}

// OnOrderCancelledOrReturned сторнирует зачисление по отменённому или возвращённому заказу.
// Если средства уже перенесены в available, автоматического списания не происходит:
// заказ ставится в очередь ручной сверки и возвращается ErrReconciliationRequired.
func (s *Service) OnOrderCancelledOrReturned(ctx context.Context, orderID string, newStatus model.OrderStatus) error {
	if newStatus != model.OrderCancelled && newStatus != model.OrderReturned {
		return fmt.Errorf("unexpected terminal status %q", newStatus)
	}

	err := s.repo.ReversePending(ctx, orderID, newStatus)

	switch {
	case err == nil:
		return nil

	case errors.Is(err, repository.ErrAlreadyReversed):
		s.logger.Info("duplicate reversal skipped", zap.String("order", orderID))
		return nil

	case errors.Is(err, repository.ErrNotCredited):
		// Зачисления не было — сторнировать нечего, меняется только статус заказа.
		s.logger.Info("reversal without prior credit, status change only", zap.String("order", orderID))
		return s.repo.UpdateOrderStatus(ctx, orderID, newStatus)

	case errors.Is(err, repository.ErrReversalAfterRelease):
		o, getErr := s.repo.GetOrder(ctx, orderID)
		if getErr != nil {
			return getErr
		}

		if err := s.repo.UpdateOrderStatus(ctx, orderID, newStatus); err != nil {
			return err
		}

		flag := &model.ReconciliationFlag{
			ID:       uuid.NewString(),
			OrderID:  orderID,
			SellerID: o.SellerID,
			Reason:   model.FlagReversalAfterRelease,
			Details: fmt.Sprintf("order %s %s after funds were released to available (%d cents)",
				orderID, newStatus, o.SellerCents),
		}
		if err := s.repo.CreateReconciliationFlag(ctx, flag); err != nil {
			return err
		}

		s.logger.Warn("reversal after release flagged for manual reconciliation",
			zap.String("order", orderID),
			zap.Int64("sellerID", o.SellerID),
			zap.Int64("amountCents", o.SellerCents),
		)
		return ErrReconciliationRequired

	default:
		return err
	}
}

// ApplyOrderStatus применяет ручное изменение статуса заказа администратором.
// Статусы, влияющие на расчёты, направляются в машину состояний; adminID фиксируется в журнале.
func (s *Service) ApplyOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, adminID int64) error {
	s.logger.Info("manual order status override",
		zap.String("order", orderID),
		zap.String("status", string(status)),
		zap.Int64("adminID", adminID),
	)

	switch status {
	case model.OrderDelivered:
		return s.OnOrderDelivered(ctx, orderID)
	case model.OrderCancelled, model.OrderReturned:
		return s.OnOrderCancelledOrReturned(ctx, orderID, status)
	case model.OrderConfirmed, model.OrderDispatched:
		return s.repo.UpdateOrderStatus(ctx, orderID, status)
	default:
		return fmt.Errorf("unsupported status override %q", status)
	}
}
