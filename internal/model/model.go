// Package model содержит доменные сущности сервиса расчётов маркетплейса.
package model

import "time"

// Role определяет роль пользователя в системе.
type Role string

const (
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// User представляет зарегистрированного пользователя (продавца или администратора).
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	KYCVerified  bool
	CreatedAt    time.Time
}

// Wallet представляет кошелёк продавца с двумя балансами.
// PendingCents — средства, зачисленные после оплаты, но удерживаемые до доставки.
// AvailableCents — средства, доступные для вывода.
// Version используется для оптимистической блокировки при конкурентных обновлениях.
type Wallet struct {
	SellerID       int64
	PendingCents   int64
	AvailableCents int64
	Version        int64
	UpdatedAt      time.Time
}

// TransactionKind описывает тип операции в журнале кошелька.
type TransactionKind string

const (
	TxCreditPending      TransactionKind = "credit_pending"
	TxReleaseToAvailable TransactionKind = "release_to_available"
	TxReversal           TransactionKind = "reversal"
	TxDebitWithdrawal    TransactionKind = "debit_withdrawal"
)

// TransactionStatus описывает статус записи журнала.
type TransactionStatus string

const (
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction — неизменяемая запись журнала кошелька.
// Amount подписан: положительное значение — зачисление, отрицательное — списание.
// GroupID связывает парные записи одной операции (перенос pending -> available).
type Transaction struct {
	ID          int64
	SellerID    int64
	OrderID     *string
	AmountCents int64
	Kind        TransactionKind
	Status      TransactionStatus
	GroupID     string
	Description string
	CreatedAt   time.Time
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "online"
	PaymentCOD    PaymentMethod = "cod"
)

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// OrderStatus описывает статус исполнения заказа.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderDispatched OrderStatus = "dispatched"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderReturned   OrderStatus = "returned"
)

// SettlementStatus — состояние заказа в машине состояний расчётов с продавцом:
// uncredited -> credited -> released, с боковой ветвью credited -> reversed.
type SettlementStatus string

const (
	SettlementUncredited SettlementStatus = "uncredited"
	SettlementCredited   SettlementStatus = "credited"
	SettlementReleased   SettlementStatus = "released"
	SettlementReversed   SettlementStatus = "reversed"
)

// Order — срез заказа внешней системы, который читает и изменяет ядро расчётов.
// Суммы фиксируются в момент оплаты и далее не пересчитываются.
type Order struct {
	ID               string
	SellerID         int64
	TotalCents       int64
	CommissionCents  int64
	SellerCents      int64
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	Status           OrderStatus
	SettlementStatus SettlementStatus
	TrackingCode     string
	CourierName      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EarningStatus описывает статус комиссионной записи площадки.
type EarningStatus string

const (
	EarningEarned   EarningStatus = "earned"
	EarningReversed EarningStatus = "reversed"
)

// AdminEarning — запись о комиссии площадки по оплаченному заказу.
type AdminEarning struct {
	OrderID         string
	SellerID        int64
	CommissionCents int64
	SellerCents     int64
	Status          EarningStatus
	CreatedAt       time.Time
}

// WithdrawalStatus описывает статус запроса на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalApproved   WithdrawalStatus = "approved"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

// IsTerminal сообщает, является ли статус запроса конечным.
// Пока у продавца есть незавершённый запрос, новый создать нельзя.
func (s WithdrawalStatus) IsTerminal() bool {
	switch s {
	case WithdrawalCompleted, WithdrawalFailed, WithdrawalRejected:
		return true
	}
	return false
}

// BankDetails — реквизиты для выплаты продавцу.
type BankDetails struct {
	AccountNumber     string
	RoutingCode       string
	AccountHolderName string
}

// WithdrawalRequest — запрос продавца на вывод средств.
type WithdrawalRequest struct {
	ID              int64
	SellerID        int64
	AmountCents     int64
	Bank            BankDetails
	Status          WithdrawalStatus
	FailureReason   string
	PayoutReference string
	RequestedAt     time.Time
	ProcessedAt     *time.Time
	ProcessedBy     *int64
}

// FlagReason описывает причину постановки заказа в очередь ручной сверки.
type FlagReason string

const (
	FlagReversalAfterRelease FlagReason = "reversal_after_release"
	FlagStuckRelease         FlagReason = "stuck_release"
)

// ReconciliationFlag — элемент операторской очереди ручной сверки.
type ReconciliationFlag struct {
	ID        string
	OrderID   string
	SellerID  int64
	Reason    FlagReason
	Details   string
	Resolved  bool
	CreatedAt time.Time
}
