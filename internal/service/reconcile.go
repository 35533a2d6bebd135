package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/settlement-system/internal/model"
)

// StartReconciliationSweep запускает фоновый процесс поиска зависших заказов:
// оплаченных и доставленных, по которым средства так и не перенесены в available.
// Такие заказы только помечаются для ручного разбора, перенос остаётся за оператором.
func (s *Service) StartReconciliationSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepStuckOrders(ctx)
			}
		}
	}()
}

func (s *Service) sweepStuckOrders(ctx context.Context) {
	orders, err := s.repo.GetStuckOrders(ctx, s.sweepStuckAge, 100)
	if err != nil {
		s.logger.Error("stuck order sweep failed", zap.Error(err))
		return
	}

	for _, o := range orders {
		flag := &model.ReconciliationFlag{
			ID:       uuid.NewString(),
			OrderID:  o.ID,
			SellerID: o.SellerID,
			Reason:   model.FlagStuckRelease,
			Details: fmt.Sprintf("order %s delivered but %d cents still pending since %s",
				o.ID, o.SellerCents, o.UpdatedAt.Format(time.RFC3339)),
		}

		if err := s.repo.CreateReconciliationFlag(ctx, flag); err != nil {
			s.logger.Error("flag stuck order failed", zap.Error(err), zap.String("order", o.ID))
			continue
		}

		s.logger.Warn("stuck release flagged for manual reconciliation",
			zap.String("order", o.ID),
			zap.Int64("sellerID", o.SellerID),
		)
	}
}
