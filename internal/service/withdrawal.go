package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/settlement-system/internal/model"
	"github.com/mmeshcher/settlement-system/internal/payout"
	"github.com/mmeshcher/settlement-system/internal/validation"
)

// RequestWithdrawal создаёт запрос продавца на вывод средств.
// Журнал кошелька не затрагивается: средства остаются в available до одобрения,
// а повторное расходование блокирует инвариант единственного незавершённого запроса.
func (s *Service) RequestWithdrawal(ctx context.Context, sellerID, amountCents int64, bank model.BankDetails) (*model.WithdrawalRequest, error) {
	if amountCents < MinWithdrawalCents {
		return nil, ErrBelowMinimum
	}

	if !validation.IsValidBankDetails(bank.AccountNumber, bank.RoutingCode, bank.AccountHolderName) {
		return nil, ErrInvalidBankDetails
	}

	u, err := s.repo.GetUserByID(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if !u.KYCVerified {
		return nil, ErrKYCIncomplete
	}

	return s.repo.CreateWithdrawalRequest(ctx, sellerID, amountCents, bank)
}

// GetWithdrawal возвращает запрос на вывод по идентификатору.
func (s *Service) GetWithdrawal(ctx context.Context, requestID int64) (*model.WithdrawalRequest, error) {
	return s.repo.GetWithdrawalByID(ctx, requestID)
}

// GetWithdrawalsBySeller возвращает историю запросов продавца.
func (s *Service) GetWithdrawalsBySeller(ctx context.Context, sellerID int64) ([]model.WithdrawalRequest, error) {
	return s.repo.GetWithdrawalsBySeller(ctx, sellerID)
}

// ListWithdrawals возвращает запросы на вывод для администратора.
func (s *Service) ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	return s.repo.ListWithdrawals(ctx, status)
}

// ApproveWithdrawal одобряет запрос и выполняет выплату через внешний шлюз.
// Порядок критичен: сначала внешний вызов, списание с баланса — только после
// подтверждённого успеха. При однозначном отказе шлюза запрос помечается failed,
// баланс не меняется и продавец может создать новый запрос. При неизвестном исходе
// (таймаут, 5xx) запрос остаётся в processing до ручной сверки.
func (s *Service) ApproveWithdrawal(ctx context.Context, requestID, adminID int64) (*model.WithdrawalRequest, error) {
	req, err := s.repo.ClaimWithdrawal(ctx, requestID, adminID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.MarkWithdrawalProcessing(ctx, req.ID); err != nil {
		return nil, err
	}
	req.Status = model.WithdrawalProcessing

	reference := fmt.Sprintf("wd-%d-%s", req.ID, uuid.NewString())

	callCtx, cancel := context.WithTimeout(ctx, s.payoutTimeout)
	defer cancel()

	payoutID, err := s.gateway.CreatePayout(callCtx, req.Bank, req.AmountCents, reference)
	if err != nil {
		if errors.Is(err, payout.ErrDeclined) {
			reason := err.Error()
			if failErr := s.repo.FailWithdrawal(ctx, req.ID, reason); failErr != nil {
				return nil, failErr
			}
			s.logger.Warn("payout declined by gateway",
				zap.Int64("requestID", req.ID),
				zap.String("reason", reason),
			)
			req.Status = model.WithdrawalFailed
			req.FailureReason = reason
			return req, nil
		}

		// Неизвестный исход: выплата могла пройти. Запрос не помечается
		// ни failed, ни completed — только ручная сверка.
		s.logger.Error("payout outcome unknown, request left processing",
			zap.Int64("requestID", req.ID),
			zap.Error(err),
		)
		return req, ErrPayoutPending
	}

	if err := s.repo.CompleteWithdrawal(ctx, req, payoutID); err != nil {
		// Выплата отправлена, но списание не зафиксировано: запрос остаётся
		// в processing, расхождение разрешает оператор.
		s.logger.Error("payout sent but ledger debit failed",
			zap.Int64("requestID", req.ID),
			zap.String("payoutID", payoutID),
			zap.Error(err),
		)
		return req, ErrPayoutPending
	}

	now := time.Now()
	req.Status = model.WithdrawalCompleted
	req.PayoutReference = payoutID
	req.ProcessedAt = &now

	return req, nil
}

// RejectWithdrawal отклоняет запрос без эффекта для журнала кошелька.
func (s *Service) RejectWithdrawal(ctx context.Context, requestID, adminID int64, reason string) error {
	return s.repo.RejectWithdrawal(ctx, requestID, adminID, reason)
}
