// Package service реализует бизнес-логику сервиса расчётов маркетплейса.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/settlement-system/internal/model"
	"github.com/mmeshcher/settlement-system/internal/repository"
	"github.com/mmeshcher/settlement-system/internal/shipment"
)

// Сигнальные ошибки бизнес-логики. Обработчики HTTP сопоставляют их кодам причин.
var (
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrBelowMinimum возвращается, если сумма вывода меньше минимальной.
	ErrBelowMinimum = errors.New("withdrawal amount below minimum")
	// ErrInvalidBankDetails возвращается при неполных или некорректных банковских реквизитах.
	ErrInvalidBankDetails = errors.New("invalid bank details")
	// ErrKYCIncomplete возвращается, если продавец не прошёл KYC.
	ErrKYCIncomplete = errors.New("seller kyc incomplete")
	// ErrPayoutPending означает неизвестный исход вызова шлюза выплат:
	// запрос остаётся в processing до ручной сверки.
	ErrPayoutPending = errors.New("payout outcome unknown, request left processing")
	// ErrReconciliationRequired означает, что событие поставлено в очередь ручной сверки.
	ErrReconciliationRequired = errors.New("manual reconciliation required")
	// ErrInvalidOrderAmounts возвращается при некорректном разделении сумм заказа.
	ErrInvalidOrderAmounts = errors.New("invalid order amounts")
)

// MinWithdrawalCents — минимальная сумма вывода средств.
const MinWithdrawalCents = 500 * 100

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	SetKYCVerified(ctx context.Context, sellerID int64) error

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	MarkOrderPaid(ctx context.Context, orderID string) error
	UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) error
	SetOrderShipment(ctx context.Context, orderID, trackingCode, courierName string) error
	GetStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]model.Order, error)

	GetWallet(ctx context.Context, sellerID int64) (*model.Wallet, error)
	GetTransactionsBySeller(ctx context.Context, sellerID int64, limit int) ([]model.Transaction, error)
	SumCompletedTransactions(ctx context.Context, sellerID int64) (int64, error)
	CreditPending(ctx context.Context, orderID string) error
	ReleaseToAvailable(ctx context.Context, orderID string) error
	ReversePending(ctx context.Context, orderID string, newStatus model.OrderStatus) error
	GetEarnings(ctx context.Context, limit int) ([]model.AdminEarning, error)

	CreateWithdrawalRequest(ctx context.Context, sellerID, amountCents int64, bank model.BankDetails) (*model.WithdrawalRequest, error)
	GetWithdrawalByID(ctx context.Context, id int64) (*model.WithdrawalRequest, error)
	GetWithdrawalsBySeller(ctx context.Context, sellerID int64) ([]model.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error)
	ClaimWithdrawal(ctx context.Context, id, adminID int64) (*model.WithdrawalRequest, error)
	MarkWithdrawalProcessing(ctx context.Context, id int64) error
	CompleteWithdrawal(ctx context.Context, req *model.WithdrawalRequest, payoutReference string) error
	FailWithdrawal(ctx context.Context, id int64, reason string) error
	RejectWithdrawal(ctx context.Context, id, adminID int64, reason string) error

	CreateReconciliationFlag(ctx context.Context, f *model.ReconciliationFlag) error
	GetReconciliationFlags(ctx context.Context) ([]model.ReconciliationFlag, error)
}

// PayoutGateway описывает контракт внешнего шлюза выплат.
type PayoutGateway interface {
	CreatePayout(ctx context.Context, bank model.BankDetails, amountCents int64, reference string) (string, error)
}

// Courier описывает контракт курьерской службы.
type Courier interface {
	CreateShipment(ctx context.Context, req shipment.CreateRequest) (*shipment.Shipment, error)
}

// Config задаёт тайминги сервиса. Нулевые значения заменяются умолчаниями.
type Config struct {
	PayoutTimeout time.Duration
	SweepInterval time.Duration
	SweepStuckAge time.Duration
}

// Service содержит бизнес-логику сервиса расчётов.
type Service struct {
	repo    Repository
	gateway PayoutGateway
	courier Courier
	logger  *zap.Logger

	payoutTimeout time.Duration
	sweepInterval time.Duration
	sweepStuckAge time.Duration
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(repo Repository, gateway PayoutGateway, courier Courier, logger *zap.Logger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PayoutTimeout <= 0 {
		cfg.PayoutTimeout = 15 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SweepStuckAge <= 0 {
		cfg.SweepStuckAge = 24 * time.Hour
	}

	return &Service{
		repo:          repo,
		gateway:       gateway,
		courier:       courier,
		logger:        logger,
		payoutTimeout: cfg.PayoutTimeout,
		sweepInterval: cfg.SweepInterval,
		sweepStuckAge: cfg.SweepStuckAge,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, role)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	hashed := hashPassword(login, password)
	if !hmac.Equal(hashed, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// VerifyKYC отмечает KYC продавца как пройденный.
func (s *Service) VerifyKYC(ctx context.Context, sellerID int64) error {
	return s.repo.SetKYCVerified(ctx, sellerID)
}

// GetWallet возвращает кошелёк продавца.
func (s *Service) GetWallet(ctx context.Context, sellerID int64) (*model.Wallet, error) {
	return s.repo.GetWallet(ctx, sellerID)
}

// GetTransactionsBySeller возвращает журнал операций кошелька продавца.
func (s *Service) GetTransactionsBySeller(ctx context.Context, sellerID int64, limit int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.GetTransactionsBySeller(ctx, sellerID, limit)
}

// WalletAudit — результат сверки кошелька с журналом операций.
type WalletAudit struct {
	Wallet      *model.Wallet
	LedgerCents int64
	Consistent  bool
}

// AuditWallet сверяет балансы кошелька с суммой завершённых операций журнала.
// Сумма завершённых записей должна равняться pending + available.
func (s *Service) AuditWallet(ctx context.Context, sellerID int64) (*WalletAudit, error) {
	w, err := s.repo.GetWallet(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	sum, err := s.repo.SumCompletedTransactions(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	return &WalletAudit{
		Wallet:      w,
		LedgerCents: sum,
		Consistent:  sum == w.PendingCents+w.AvailableCents,
	}, nil
}

// GetEarnings возвращает комиссионные записи площадки.
func (s *Service) GetEarnings(ctx context.Context, limit int) ([]model.AdminEarning, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.GetEarnings(ctx, limit)
}

// GetReconciliationFlags возвращает операторскую очередь ручной сверки.
func (s *Service) GetReconciliationFlags(ctx context.Context) ([]model.ReconciliationFlag, error) {
	return s.repo.GetReconciliationFlags(ctx)
}

// RegisterOrder регистрирует срез заказа внешней системы.
// Доля продавца вычисляется один раз и далее не пересчитывается.
func (s *Service) RegisterOrder(ctx context.Context, orderID string, sellerID, totalCents, commissionCents int64, method model.PaymentMethod) (*model.Order, error) {
	if totalCents <= 0 || commissionCents < 0 || commissionCents > totalCents {
		return nil, ErrInvalidOrderAmounts
	}

	o := &model.Order{
		ID:              orderID,
		SellerID:        sellerID,
		TotalCents:      totalCents,
		CommissionCents: commissionCents,
		SellerCents:     totalCents - commissionCents,
		PaymentMethod:   method,
		PaymentStatus:   model.PaymentPending,
		Status:          model.OrderPending,
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	return o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// CreateShipment регистрирует отправку заказа у курьера и сохраняет трек-номер.
func (s *Service) CreateShipment(ctx context.Context, orderID, pickupAddress, deliveryAddress string) (*shipment.Shipment, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	sh, err := s.courier.CreateShipment(ctx, shipment.CreateRequest{
		OrderID:         orderID,
		PickupAddress:   pickupAddress,
		DeliveryAddress: deliveryAddress,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetOrderShipment(ctx, orderID, sh.TrackingCode, sh.CourierName); err != nil {
		return nil, err
	}

	return sh, nil
}
