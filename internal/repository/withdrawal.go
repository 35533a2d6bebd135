package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/settlement-system/internal/model"
)

// CreateWithdrawalRequest создаёт запрос на вывод средств.
// Строка кошелька блокируется для сериализации конкурентных запросов одного продавца:
// проверка баланса и единственности незавершённого запроса выполняются под блокировкой.
func (r *PostgresRepository) CreateWithdrawalRequest(ctx context.Context, sellerID, amountCents int64, bank model.BankDetails) (*model.WithdrawalRequest, error) {
	var req *model.WithdrawalRequest

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallets (seller_id) VALUES ($1) ON CONFLICT (seller_id) DO NOTHING`,
			sellerID,
		); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}

		var available int64
		err := tx.QueryRow(ctx,
			`SELECT available_cents FROM wallets WHERE seller_id = $1 FOR UPDATE`,
			sellerID,
		).Scan(&available)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		if amountCents > available {
			return ErrInsufficientBalance
		}

		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
			     SELECT 1 FROM withdrawal_requests
			     WHERE seller_id = $1 AND status IN ('pending', 'approved', 'processing')
			 )`,
			sellerID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check open requests: %w", err)
		}
		if exists {
			return ErrPendingRequestExists
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO withdrawal_requests
			     (seller_id, amount_cents, bank_account_number, routing_code, account_holder_name, status)
			 VALUES ($1, $2, $3, $4, $5, 'pending')
			 RETURNING id, requested_at`,
			sellerID, amountCents, bank.AccountNumber, bank.RoutingCode, bank.AccountHolderName,
		)

		req = &model.WithdrawalRequest{
			SellerID:    sellerID,
			AmountCents: amountCents,
			Bank:        bank,
			Status:      model.WithdrawalPending,
		}
		if err := row.Scan(&req.ID, &req.RequestedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrPendingRequestExists
			}
			return fmt.Errorf("insert withdrawal request: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return req, nil
}

func scanWithdrawal(row pgx.Row) (*model.WithdrawalRequest, error) {
	var req model.WithdrawalRequest
	var status string
	err := row.Scan(&req.ID, &req.SellerID, &req.AmountCents,
		&req.Bank.AccountNumber, &req.Bank.RoutingCode, &req.Bank.AccountHolderName,
		&status, &req.FailureReason, &req.PayoutReference,
		&req.RequestedAt, &req.ProcessedAt, &req.ProcessedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("scan withdrawal request: %w", err)
	}
	req.Status = model.WithdrawalStatus(status)
	return &req, nil
}

const withdrawalColumns = `id, seller_id, amount_cents,
	bank_account_number, routing_code, account_holder_name,
	status, failure_reason, payout_reference,
	requested_at, processed_at, processed_by`

// GetWithdrawalByID возвращает запрос на вывод по идентификатору.
func (r *PostgresRepository) GetWithdrawalByID(ctx context.Context, id int64) (*model.WithdrawalRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`,
		id,
	)
	return scanWithdrawal(row)
}

// GetWithdrawalsBySeller возвращает историю запросов продавца, новые первыми.
func (r *PostgresRepository) GetWithdrawalsBySeller(ctx context.Context, sellerID int64) ([]model.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+withdrawalColumns+`
		 FROM withdrawal_requests
		 WHERE seller_id = $1
		 ORDER BY requested_at DESC`,
		sellerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	defer rows.Close()

	var res []model.WithdrawalRequest
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListWithdrawals возвращает запросы на вывод в указанном статусе (или все при пустом статусе).
func (r *PostgresRepository) ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+withdrawalColumns+`
		 FROM withdrawal_requests
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY requested_at`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	defer rows.Close()

	var res []model.WithdrawalRequest
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ClaimWithdrawal переводит запрос pending -> approved от имени администратора.
// Гарантирует, что запрос обрабатывается ровно одним администратором.
func (r *PostgresRepository) ClaimWithdrawal(ctx context.Context, id, adminID int64) (*model.WithdrawalRequest, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE withdrawal_requests
		 SET status = 'approved', processed_by = $2, processed_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+withdrawalColumns,
		id, adminID,
	)

	req, err := scanWithdrawal(row)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			// Запрос существует, но уже не pending.
			if _, getErr := r.GetWithdrawalByID(ctx, id); getErr == nil {
				return nil, ErrRequestNotPending
			}
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	return req, nil
}

// MarkWithdrawalProcessing переводит запрос approved -> processing перед обращением к шлюзу выплат.
// Запрос, оставшийся в processing, означает неизвестный исход внешнего вызова.
func (r *PostgresRepository) MarkWithdrawalProcessing(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE withdrawal_requests SET status = 'processing' WHERE id = $1 AND status = 'approved'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark withdrawal processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotPending
	}
	return nil
}

// CompleteWithdrawal атомарно списывает сумму с available-баланса и завершает запрос.
// Вызывается только после подтверждённого успеха шлюза выплат.
func (r *PostgresRepository) CompleteWithdrawal(ctx context.Context, req *model.WithdrawalRequest, payoutReference string) error {
	return r.withWalletRetry(ctx, func(tx pgx.Tx) error {
		if err := insertTransaction(ctx, tx, &model.Transaction{
			SellerID:    req.SellerID,
			AmountCents: -req.AmountCents,
			Kind:        model.TxDebitWithdrawal,
			Status:      model.TxCompleted,
			GroupID:     payoutReference,
			Description: fmt.Sprintf("withdrawal request %d payout", req.ID),
		}); err != nil {
			return err
		}

		if err := applyWalletDelta(ctx, tx, req.SellerID, 0, -req.AmountCents); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`UPDATE withdrawal_requests
			 SET status = 'completed', payout_reference = $2, processed_at = now()
			 WHERE id = $1 AND status = 'processing'`,
			req.ID, payoutReference,
		)
		if err != nil {
			return fmt.Errorf("complete withdrawal: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrRequestNotPending
		}

		return nil
	})
}

// FailWithdrawal отмечает запрос неуспешным с причиной от шлюза выплат.
// Журнал кошелька не затрагивается: средства остаются доступными для нового запроса.
func (r *PostgresRepository) FailWithdrawal(ctx context.Context, id int64, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE withdrawal_requests
		 SET status = 'failed', failure_reason = $2, processed_at = now()
		 WHERE id = $1 AND status IN ('approved', 'processing')`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("fail withdrawal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotPending
	}
	return nil
}

// RejectWithdrawal отклоняет запрос без эффекта для журнала кошелька.
func (r *PostgresRepository) RejectWithdrawal(ctx context.Context, id, adminID int64, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE withdrawal_requests
		 SET status = 'rejected', failure_reason = $2, processed_by = $3, processed_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, reason, adminID,
	)
	if err != nil {
		return fmt.Errorf("reject withdrawal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetWithdrawalByID(ctx, id); getErr != nil {
			return ErrRequestNotFound
		}
		return ErrRequestNotPending
	}
	return nil
}
