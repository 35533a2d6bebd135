// Package handler содержит HTTP-обработчики API сервиса расчётов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/settlement-system/internal/middleware"
	"github.com/mmeshcher/settlement-system/internal/model"
	"github.com/mmeshcher/settlement-system/internal/repository"
	"github.com/mmeshcher/settlement-system/internal/service"
	"github.com/mmeshcher/settlement-system/internal/shipment"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	VerifyKYC(ctx context.Context, sellerID int64) error

	GetWallet(ctx context.Context, sellerID int64) (*model.Wallet, error)
	GetTransactionsBySeller(ctx context.Context, sellerID int64, limit int) ([]model.Transaction, error)
	AuditWallet(ctx context.Context, sellerID int64) (*service.WalletAudit, error)

	RegisterOrder(ctx context.Context, orderID string, sellerID, totalCents, commissionCents int64, method model.PaymentMethod) (*model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	CreateShipment(ctx context.Context, orderID, pickupAddress, deliveryAddress string) (*shipment.Shipment, error)

	ConfirmPayment(ctx context.Context, orderID string) error
	OnPaymentConfirmed(ctx context.Context, orderID string) error
	OnOrderDelivered(ctx context.Context, orderID string) error
	OnOrderDispatched(ctx context.Context, orderID string) error
	OnOrderCancelledOrReturned(ctx context.Context, orderID string, newStatus model.OrderStatus) error
	ApplyOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, adminID int64) error

	RequestWithdrawal(ctx context.Context, sellerID, amountCents int64, bank model.BankDetails) (*model.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, requestID int64) (*model.WithdrawalRequest, error)
	GetWithdrawalsBySeller(ctx context.Context, sellerID int64) ([]model.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, requestID, adminID int64) (*model.WithdrawalRequest, error)
	RejectWithdrawal(ctx context.Context, requestID, adminID int64, reason string) error

	GetEarnings(ctx context.Context, limit int) ([]model.AdminEarning, error)
	GetReconciliationFlags(ctx context.Context) ([]model.ReconciliationFlag, error)
}

// Handler реализует HTTP-обработчики API сервиса расчётов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	paymentSecret  string
	webhookSecret  string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, paymentSecret, webhookSecret string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		paymentSecret:  paymentSecret,
		webhookSecret:  webhookSecret,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	h.logger.Error(msg, append(fields, zap.Error(err))...)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Register обрабатывает регистрацию нового продавца.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, model.RoleSeller)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.internalError(w, "register user error", err)
		return
	}

	token, err := h.authMiddleware.IssueToken(userID, model.RoleSeller)
	if err != nil {
		h.internalError(w, "issue token error", err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// Login выполняет аутентификацию пользователя и выдачу токена.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.internalError(w, "login user error", err)
		return
	}

	token, err := h.authMiddleware.IssueToken(user.ID, user.Role)
	if err != nil {
		h.internalError(w, "issue token error", err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type walletResponse struct {
	Pending   float64 `json:"pending"`
	Available float64 `json:"available"`
}

// GetWallet возвращает балансы кошелька текущего продавца.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), sellerID)
	if err != nil {
		h.internalError(w, "get wallet error", err, zap.Int64("sellerID", sellerID))
		return
	}

	writeJSON(w, http.StatusOK, walletResponse{
		Pending:   float64(wallet.PendingCents) / 100,
		Available: float64(wallet.AvailableCents) / 100,
	})
}

type transactionResponse struct {
	ID          int64   `json:"id"`
	OrderID     *string `json:"order_id,omitempty"`
	Amount      float64 `json:"amount"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// GetTransactions возвращает журнал операций кошелька текущего продавца.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	txs, err := h.service.GetTransactionsBySeller(r.Context(), sellerID, 100)
	if err != nil {
		h.internalError(w, "get transactions error", err, zap.Int64("sellerID", sellerID))
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		resp = append(resp, transactionResponse{
			ID:          t.ID,
			OrderID:     t.OrderID,
			Amount:      float64(t.AmountCents) / 100,
			Kind:        string(t.Kind),
			Status:      string(t.Status),
			Description: t.Description,
			CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type withdrawRequest struct {
	Amount            float64 `json:"amount"`
	BankAccountNumber string  `json:"bankAccountNumber"`
	RoutingCode       string  `json:"routingCode"`
	AccountHolderName string  `json:"accountHolderName"`
}

type withdrawalResponse struct {
	ID              int64   `json:"id"`
	Amount          float64 `json:"amount"`
	Status          string  `json:"status"`
	FailureReason   string  `json:"failure_reason,omitempty"`
	PayoutReference string  `json:"payout_reference,omitempty"`
	RequestedAt     string  `json:"requested_at"`
	ProcessedAt     *string `json:"processed_at,omitempty"`
}

func toWithdrawalResponse(req *model.WithdrawalRequest) withdrawalResponse {
	resp := withdrawalResponse{
		ID:              req.ID,
		Amount:          float64(req.AmountCents) / 100,
		Status:          string(req.Status),
		FailureReason:   req.FailureReason,
		PayoutReference: req.PayoutReference,
		RequestedAt:     req.RequestedAt.Format(time.RFC3339),
	}
	if req.ProcessedAt != nil {
		s := req.ProcessedAt.Format(time.RFC3339)
		resp.ProcessedAt = &s
	}
	return resp
}

// CreateWithdrawal создаёт запрос текущего продавца на вывод средств.
// Отказ сопровождается кодом причины в теле ответа.
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_amount")
		return
	}

	amountCents := int64(req.Amount * 100)

	created, err := h.service.RequestWithdrawal(r.Context(), sellerID, amountCents, model.BankDetails{
		AccountNumber:     req.BankAccountNumber,
		RoutingCode:       req.RoutingCode,
		AccountHolderName: req.AccountHolderName,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBelowMinimum):
			writeError(w, http.StatusBadRequest, "below_minimum")
		case errors.Is(err, service.ErrInvalidBankDetails):
			writeError(w, http.StatusBadRequest, "invalid_bank_details")
		case errors.Is(err, service.ErrKYCIncomplete):
			writeError(w, http.StatusBadRequest, "kyc_incomplete")
		case errors.Is(err, repository.ErrInsufficientBalance):
			writeError(w, http.StatusBadRequest, "insufficient_balance")
		case errors.Is(err, repository.ErrPendingRequestExists):
			writeError(w, http.StatusBadRequest, "pending_request_exists")
		default:
			h.internalError(w, "create withdrawal error", err, zap.Int64("sellerID", sellerID))
		}
		return
	}

	writeJSON(w, http.StatusCreated, toWithdrawalResponse(created))
}

// GetWithdrawals возвращает историю запросов на вывод текущего продавца.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	withdrawals, err := h.service.GetWithdrawalsBySeller(r.Context(), sellerID)
	if err != nil {
		h.internalError(w, "get withdrawals error", err, zap.Int64("sellerID", sellerID))
		return
	}

	if len(withdrawals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]withdrawalResponse, 0, len(withdrawals))
	for i := range withdrawals {
		resp = append(resp, toWithdrawalResponse(&withdrawals[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}
