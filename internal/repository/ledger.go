package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/settlement-system/internal/model"
)

// walletRetries — число повторов транзакции при конфликте версий кошелька.
const walletRetries = 3

// GetWallet возвращает кошелёк продавца, создавая его с нулевыми балансами при отсутствии.
func (r *PostgresRepository) GetWallet(ctx context.Context, sellerID int64) (*model.Wallet, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallets (seller_id) VALUES ($1) ON CONFLICT (seller_id) DO NOTHING`,
		sellerID,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT seller_id, pending_cents, available_cents, version, updated_at
		 FROM wallets WHERE seller_id = $1`,
		sellerID,
	)

	var w model.Wallet
	if err := row.Scan(&w.SellerID, &w.PendingCents, &w.AvailableCents, &w.Version, &w.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	return &w, nil
}

// GetTransactionsBySeller возвращает журнал операций кошелька, новые первыми.
func (r *PostgresRepository) GetTransactionsBySeller(ctx context.Context, sellerID int64, limit int) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, seller_id, order_id, amount_cents, kind, status, group_id, description, created_at
		 FROM wallet_transactions
		 WHERE seller_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		sellerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var kind, status string
		if err := rows.Scan(&t.ID, &t.SellerID, &t.OrderID, &t.AmountCents, &kind, &status, &t.GroupID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Kind = model.TransactionKind(kind)
		t.Status = model.TransactionStatus(status)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SumCompletedTransactions возвращает сумму завершённых операций продавца.
// Инвариант сверки: сумма равна pending + available в любой момент времени.
func (r *PostgresRepository) SumCompletedTransactions(ctx context.Context, sellerID int64) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0)
		 FROM wallet_transactions
		 WHERE seller_id = $1 AND status = 'completed'`,
		sellerID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum transactions: %w", err)
	}
	return sum, nil
}

// withWalletRetry выполняет fn в транзакции БД, повторяя её при конфликте версий кошелька.
func (r *PostgresRepository) withWalletRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	backoff := retry.WithMaxRetries(walletRetries, retry.NewConstant(50*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.inTx(ctx, fn)
		if errors.Is(err, ErrConcurrentModification) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// applyWalletDelta изменяет балансы кошелька в рамках транзакции tx под защитой версии.
// Возвращает ErrInsufficientBalance, если списание увело бы любой из балансов в минус,
// и ErrConcurrentModification при конфликте версий.
func applyWalletDelta(ctx context.Context, tx pgx.Tx, sellerID, pendingDelta, availableDelta int64) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO wallets (seller_id) VALUES ($1) ON CONFLICT (seller_id) DO NOTHING`,
		sellerID,
	); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}

	var pending, available, version int64
	err := tx.QueryRow(ctx,
		`SELECT pending_cents, available_cents, version FROM wallets WHERE seller_id = $1`,
		sellerID,
	).Scan(&pending, &available, &version)
	if err != nil {
		return fmt.Errorf("read wallet: %w", err)
	}

	newPending := pending + pendingDelta
	newAvailable := available + availableDelta
	if newPending < 0 || newAvailable < 0 {
		return ErrInsufficientBalance
	}

	tag, err := tx.Exec(ctx,
		`UPDATE wallets
		 SET pending_cents = $2, available_cents = $3, version = version + 1, updated_at = now()
		 WHERE seller_id = $1 AND version = $4`,
		sellerID, newPending, newAvailable, version,
	)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}

	return nil
}

// insertTransaction добавляет неизменяемую запись в журнал кошелька.
func insertTransaction(ctx context.Context, tx pgx.Tx, t *model.Transaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO wallet_transactions (seller_id, order_id, amount_cents, kind, status, group_id, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.SellerID, t.OrderID, t.AmountCents, string(t.Kind), string(t.Status), t.GroupID, t.Description,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// lockOrderSettlement блокирует строку заказа и возвращает данные, нужные машине состояний.
// Блокировка сериализует конкурентные события по одному заказу.
func lockOrderSettlement(ctx context.Context, tx pgx.Tx, orderID string) (*model.Order, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, seller_id, seller_cents, commission_cents, payment_method, payment_status, status, settlement_status
		 FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	)

	var o model.Order
	var method, payStatus, status, settlement string
	err := row.Scan(&o.ID, &o.SellerID, &o.SellerCents, &o.CommissionCents, &method, &payStatus, &status, &settlement)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	o.PaymentMethod = model.PaymentMethod(method)
	o.PaymentStatus = model.PaymentStatus(payStatus)
	o.Status = model.OrderStatus(status)
	o.SettlementStatus = model.SettlementStatus(settlement)

	return &o, nil
}

func setSettlementStatus(ctx context.Context, tx pgx.Tx, orderID string, status model.SettlementStatus) error {
	_, err := tx.Exec(ctx,
		`UPDATE orders SET settlement_status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(status),
	)
	if err != nil {
		return fmt.Errorf("set settlement status: %w", err)
	}
	return nil
}

// creditPendingTx зачисляет долю продавца в pending и фиксирует комиссию площадки.
func creditPendingTx(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	if err := insertTransaction(ctx, tx, &model.Transaction{
		SellerID:    o.SellerID,
		OrderID:     &o.ID,
		AmountCents: o.SellerCents,
		Kind:        model.TxCreditPending,
		Status:      model.TxCompleted,
		GroupID:     uuid.NewString(),
		Description: fmt.Sprintf("payment credit for order %s", o.ID),
	}); err != nil {
		return err
	}

	if err := applyWalletDelta(ctx, tx, o.SellerID, o.SellerCents, 0); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO admin_earnings (order_id, seller_id, commission_cents, seller_cents, status)
		 VALUES ($1, $2, $3, $4, 'earned')`,
		o.ID, o.SellerID, o.CommissionCents, o.SellerCents,
	); err != nil {
		return fmt.Errorf("insert admin earning: %w", err)
	}

	return setSettlementStatus(ctx, tx, o.ID, model.SettlementCredited)
}

// releaseTx переносит долю продавца из pending в available парой записей журнала,
// в сумме не меняющей общий баланс.
func releaseTx(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	groupID := uuid.NewString()

	if err := insertTransaction(ctx, tx, &model.Transaction{
		SellerID:    o.SellerID,
		OrderID:     &o.ID,
		AmountCents: -o.SellerCents,
		Kind:        model.TxReleaseToAvailable,
		Status:      model.TxCompleted,
		GroupID:     groupID,
		Description: fmt.Sprintf("release for order %s: pending debit", o.ID),
	}); err != nil {
		return err
	}

	if err := insertTransaction(ctx, tx, &model.Transaction{
		SellerID:    o.SellerID,
		OrderID:     &o.ID,
		AmountCents: o.SellerCents,
		Kind:        model.TxReleaseToAvailable,
		Status:      model.TxCompleted,
		GroupID:     groupID,
		Description: fmt.Sprintf("release for order %s: available credit", o.ID),
	}); err != nil {
		return err
	}

	if err := applyWalletDelta(ctx, tx, o.SellerID, -o.SellerCents, o.SellerCents); err != nil {
		return err
	}

	return setSettlementStatus(ctx, tx, o.ID, model.SettlementReleased)
}

// CreditPending атомарно зачисляет долю продавца по оплаченному заказу.
// Повторный вызов для того же заказа возвращает ErrAlreadyCredited без эффекта.
// Опоздавшее подтверждение оплаты по уже отменённому или возвращённому заказу
// возвращает ErrOrderClosed: такой заказ не зачисляется.
func (r *PostgresRepository) CreditPending(ctx context.Context, orderID string) error {
	return r.withWalletRetry(ctx, func(tx pgx.Tx) error {
		o, err := lockOrderSettlement(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch o.SettlementStatus {
		case model.SettlementCredited, model.SettlementReleased:
			return ErrAlreadyCredited
		case model.SettlementReversed:
			return ErrAlreadyReversed
		}

		if o.Status == model.OrderCancelled || o.Status == model.OrderReturned {
			return ErrOrderClosed
		}

		if o.PaymentStatus != model.PaymentPaid {
			return ErrOrderNotPaid
		}

		return creditPendingTx(ctx, tx, o)
	})
}

// ReleaseToAvailable атомарно переносит долю продавца из pending в available
// и отмечает заказ доставленным. Повторный вызов возвращает ErrAlreadyReleased без эффекта.
// Для COD-заказов, не проходивших онлайн-оплату, зачисление и перенос выполняются одним шагом,
// а заказ отмечается оплаченным.
func (r *PostgresRepository) ReleaseToAvailable(ctx context.Context, orderID string) error {
	return r.withWalletRetry(ctx, func(tx pgx.Tx) error {
		o, err := lockOrderSettlement(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch o.SettlementStatus {
		case model.SettlementReleased:
			return ErrAlreadyReleased
		case model.SettlementReversed:
			return ErrAlreadyReversed
		}

		if o.Status == model.OrderCancelled || o.Status == model.OrderReturned {
			return ErrOrderClosed
		}

		if o.SettlementStatus == model.SettlementUncredited {
			if o.PaymentMethod != model.PaymentCOD {
				return ErrNotCredited
			}
			// COD: оплата подтверждается самой доставкой.
			if _, err := tx.Exec(ctx,
				`UPDATE orders SET payment_status = 'paid', updated_at = now() WHERE id = $1`,
				orderID,
			); err != nil {
				return fmt.Errorf("mark cod order paid: %w", err)
			}
			if err := creditPendingTx(ctx, tx, o); err != nil {
				return err
			}
		}

		if err := releaseTx(ctx, tx, o); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = 'delivered', updated_at = now() WHERE id = $1`,
			orderID,
		); err != nil {
			return fmt.Errorf("mark order delivered: %w", err)
		}

		return nil
	})
}

// ReversePending сторнирует зачисление по отменённому или возвращённому заказу
// и отмечает комиссию площадки как reversed.
// Для заказа, средства по которому уже перенесены в available, возвращает
// ErrReversalAfterRelease: автоматическое списание могло бы увести баланс в минус.
func (r *PostgresRepository) ReversePending(ctx context.Context, orderID string, newStatus model.OrderStatus) error {
	return r.withWalletRetry(ctx, func(tx pgx.Tx) error {
		o, err := lockOrderSettlement(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch o.SettlementStatus {
		case model.SettlementUncredited:
			return ErrNotCredited
		case model.SettlementReversed:
			return ErrAlreadyReversed
		case model.SettlementReleased:
			return ErrReversalAfterRelease
		}

		if err := insertTransaction(ctx, tx, &model.Transaction{
			SellerID:    o.SellerID,
			OrderID:     &o.ID,
			AmountCents: -o.SellerCents,
			Kind:        model.TxReversal,
			Status:      model.TxCompleted,
			GroupID:     uuid.NewString(),
			Description: fmt.Sprintf("reversal for %s order %s", newStatus, o.ID),
		}); err != nil {
			return err
		}

		if err := applyWalletDelta(ctx, tx, o.SellerID, -o.SellerCents, 0); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE admin_earnings SET status = 'reversed' WHERE order_id = $1`,
			orderID,
		); err != nil {
			return fmt.Errorf("reverse admin earning: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE orders SET settlement_status = 'reversed', status = $2, updated_at = now() WHERE id = $1`,
			orderID, string(newStatus),
		); err != nil {
			return fmt.Errorf("mark order reversed: %w", err)
		}

		return nil
	})
}
