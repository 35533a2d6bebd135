// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/settlement-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderExists возвращается при повторной регистрации заказа.
	ErrOrderExists = errors.New("order already registered")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPaid возвращается при попытке зачисления по неоплаченному заказу.
	ErrOrderNotPaid = errors.New("order is not paid")
	// ErrAlreadyCredited возвращается при повторном зачислении по заказу. Не ошибка, а сигнал no-op.
	ErrAlreadyCredited = errors.New("order already credited")
	// ErrAlreadyReleased возвращается при повторном переносе средств по заказу. Не ошибка, а сигнал no-op.
	ErrAlreadyReleased = errors.New("order already released")
	// ErrNotCredited возвращается, если по заказу не было зачисления в pending.
	ErrNotCredited = errors.New("order was not credited")
	// ErrAlreadyReversed возвращается при повторном сторнировании. Не ошибка, а сигнал no-op.
	ErrAlreadyReversed = errors.New("order already reversed")
	// ErrOrderClosed возвращается при попытке зачисления или переноса средств
	// по отменённому или возвращённому заказу: опоздавшее событие не должно
	// финансировать закрытый заказ.
	ErrOrderClosed = errors.New("order is cancelled or returned")
	// ErrReversalAfterRelease возвращается при сторнировании уже перенесённых в available средств.
	// Автоматическое списание небезопасно: средства могли быть выведены.
	ErrReversalAfterRelease = errors.New("reversal after release requires manual reconciliation")
	// ErrInsufficientBalance возвращается, если списание увело бы баланс в минус.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrConcurrentModification возвращается при конфликте версий кошелька.
	ErrConcurrentModification = errors.New("concurrent wallet modification")
	// ErrPendingRequestExists возвращается, если у продавца уже есть незавершённый запрос на вывод.
	ErrPendingRequestExists = errors.New("pending withdrawal request exists")
	// ErrRequestNotFound возвращается, если запрос на вывод не найден.
	ErrRequestNotFound = errors.New("withdrawal request not found")
	// ErrRequestNotPending возвращается, если запрос уже обработан другим администратором.
	ErrRequestNotPending = errors.New("withdrawal request is not pending")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// inTx выполняет fn в рамках одной транзакции БД.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, kyc_verified, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.KYCVerified, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, kyc_verified, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.KYCVerified, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// SetKYCVerified отмечает KYC продавца как пройденный.
func (r *PostgresRepository) SetKYCVerified(ctx context.Context, sellerID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET kyc_verified = TRUE WHERE id = $1 AND role = 'seller'`,
		sellerID,
	)
	if err != nil {
		return fmt.Errorf("set kyc verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateOrder регистрирует срез заказа внешней системы с зафиксированным разделением сумм.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, seller_id, total_cents, commission_cents, seller_cents,
		                     payment_method, payment_status, status, settlement_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.SellerID, o.TotalCents, o.CommissionCents, o.SellerCents,
		string(o.PaymentMethod), string(o.PaymentStatus), string(o.Status), string(model.SettlementUncredited),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var method, payStatus, status, settlement string
	err := row.Scan(&o.ID, &o.SellerID, &o.TotalCents, &o.CommissionCents, &o.SellerCents,
		&method, &payStatus, &status, &settlement, &o.TrackingCode, &o.CourierName,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.PaymentMethod = model.PaymentMethod(method)
	o.PaymentStatus = model.PaymentStatus(payStatus)
	o.Status = model.OrderStatus(status)
	o.SettlementStatus = model.SettlementStatus(settlement)
	return &o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, seller_id, total_cents, commission_cents, seller_cents,
		        payment_method, payment_status, status, settlement_status,
		        tracking_code, courier_name, created_at, updated_at
		 FROM orders WHERE id = $1`,
		orderID,
	)
	return scanOrder(row)
}

// MarkOrderPaid отмечает заказ оплаченным. Повторный вызов не имеет эффекта.
func (r *PostgresRepository) MarkOrderPaid(ctx context.Context, orderID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_status = 'paid', updated_at = now()
		 WHERE id = $1 AND payment_status = 'pending'`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо заказ не найден, либо уже оплачен.
		if _, err := r.GetOrder(ctx, orderID); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOrderStatus обновляет статус исполнения заказа.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SetOrderShipment сохраняет трек-номер и курьера и переводит заказ в dispatched.
func (r *PostgresRepository) SetOrderShipment(ctx context.Context, orderID, trackingCode, courierName string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET tracking_code = $2, courier_name = $3, status = 'dispatched', updated_at = now()
		 WHERE id = $1`,
		orderID, trackingCode, courierName,
	)
	if err != nil {
		return fmt.Errorf("set order shipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetEarnings возвращает комиссионные записи площадки, новые первыми.
func (r *PostgresRepository) GetEarnings(ctx context.Context, limit int) ([]model.AdminEarning, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id, seller_id, commission_cents, seller_cents, status, created_at
		 FROM admin_earnings
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select earnings: %w", err)
	}
	defer rows.Close()

	var res []model.AdminEarning
	for rows.Next() {
		var e model.AdminEarning
		var status string
		if err := rows.Scan(&e.OrderID, &e.SellerID, &e.CommissionCents, &e.SellerCents, &status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		e.Status = model.EarningStatus(status)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateReconciliationFlag ставит заказ в очередь ручной сверки.
// Повторная постановка по той же причине не создаёт дубликата.
func (r *PostgresRepository) CreateReconciliationFlag(ctx context.Context, f *model.ReconciliationFlag) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO reconciliation_flags (id, order_id, seller_id, reason, details)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (order_id, reason) WHERE NOT resolved DO NOTHING`,
		f.ID, f.OrderID, f.SellerID, string(f.Reason), f.Details,
	)
	if err != nil {
		return fmt.Errorf("insert reconciliation flag: %w", err)
	}
	return nil
}

// GetReconciliationFlags возвращает неразрешённые элементы очереди сверки.
func (r *PostgresRepository) GetReconciliationFlags(ctx context.Context) ([]model.ReconciliationFlag, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, seller_id, reason, details, resolved, created_at
		 FROM reconciliation_flags
		 WHERE NOT resolved
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("select reconciliation flags: %w", err)
	}
	defer rows.Close()

	var res []model.ReconciliationFlag
	for rows.Next() {
		var f model.ReconciliationFlag
		var reason string
		if err := rows.Scan(&f.ID, &f.OrderID, &f.SellerID, &reason, &f.Details, &f.Resolved, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation flag: %w", err)
		}
		f.Reason = model.FlagReason(reason)
		res = append(res, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetStuckOrders возвращает оплаченные и доставленные заказы, по которым средства
// так и не были перенесены в available в течение заданного срока.
func (r *PostgresRepository) GetStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, seller_id, total_cents, commission_cents, seller_cents,
		        payment_method, payment_status, status, settlement_status,
		        tracking_code, courier_name, created_at, updated_at
		 FROM orders
		 WHERE payment_status = 'paid'
		   AND status = 'delivered'
		   AND settlement_status = 'credited'
		   AND updated_at < now() - make_interval(secs => $1)
		 ORDER BY updated_at
		 LIMIT $2`,
		olderThan.Seconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stuck orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
