package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/settlement-system/internal/middleware"
	"github.com/mmeshcher/settlement-system/internal/model"
	"github.com/mmeshcher/settlement-system/internal/repository"
	"github.com/mmeshcher/settlement-system/internal/service"
	"github.com/mmeshcher/settlement-system/internal/shipment"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUser *model.User
	authErr  error

	walletResp *model.Wallet
	walletErr  error

	auditResp *service.WalletAudit
	auditErr  error

	txsResp []model.Transaction
	txsErr  error

	orderResp *model.Order
	orderErr  error

	shipmentResp *shipment.Shipment
	shipmentErr  error

	confirmPaymentErr error
	deliveredErr      error
	dispatchedErr     error
	reversalErr       error
	applyStatusErr    error

	withdrawResp *model.WithdrawalRequest
	withdrawErr  error

	withdrawalsResp []model.WithdrawalRequest
	withdrawalsErr  error

	approveResp *model.WithdrawalRequest
	approveErr  error
	rejectErr   error

	earningsResp []model.AdminEarning
	earningsErr  error

	flagsResp []model.ReconciliationFlag
	flagsErr  error

	kycErr error

	lastDeliveredOrder string
	lastReversedOrder  string
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) VerifyKYC(ctx context.Context, sellerID int64) error {
	return s.kycErr
}

func (s *stubService) GetWallet(ctx context.Context, sellerID int64) (*model.Wallet, error) {
	return s.walletResp, s.walletErr
}

func (s *stubService) GetTransactionsBySeller(ctx context.Context, sellerID int64, limit int) ([]model.Transaction, error) {
	return s.txsResp, s.txsErr
}

func (s *stubService) AuditWallet(ctx context.Context, sellerID int64) (*service.WalletAudit, error) {
	return s.auditResp, s.auditErr
}

func (s *stubService) RegisterOrder(ctx context.Context, orderID string, sellerID, totalCents, commissionCents int64, method model.PaymentMethod) (*model.Order, error) {
	return s.orderResp, s.orderErr
}

func (s *stubService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.orderResp, s.orderErr
}

func (s *stubService) CreateShipment(ctx context.Context, orderID, pickupAddress, deliveryAddress string) (*shipment.Shipment, error) {
	return s.shipmentResp, s.shipmentErr
}

func (s *stubService) ConfirmPayment(ctx context.Context, orderID string) error {
	return s.confirmPaymentErr
}

func (s *stubService) OnPaymentConfirmed(ctx context.Context, orderID string) error {
	return s.confirmPaymentErr
}

func (s *stubService) OnOrderDelivered(ctx context.Context, orderID string) error {
	s.lastDeliveredOrder = orderID
	return s.deliveredErr
}

func (s *stubService) OnOrderDispatched(ctx context.Context, orderID string) error {
	return s.dispatchedErr
}

func (s *stubService) OnOrderCancelledOrReturned(ctx context.Context, orderID string, newStatus model.OrderStatus) error {
	s.lastReversedOrder = orderID
	return s.reversalErr
}

func (s *stubService) ApplyOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, adminID int64) error {
	return s.applyStatusErr
}

func (s *stubService) RequestWithdrawal(ctx context.Context, sellerID, amountCents int64, bank model.BankDetails) (*model.WithdrawalRequest, error) {
	return s.withdrawResp, s.withdrawErr
}

func (s *stubService) GetWithdrawal(ctx context.Context, requestID int64) (*model.WithdrawalRequest, error) {
	return s.withdrawResp, s.withdrawErr
}

func (s *stubService) GetWithdrawalsBySeller(ctx context.Context, sellerID int64) ([]model.WithdrawalRequest, error) {
	return s.withdrawalsResp, s.withdrawalsErr
}

func (s *stubService) ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	return s.withdrawalsResp, s.withdrawalsErr
}

func (s *stubService) ApproveWithdrawal(ctx context.Context, requestID, adminID int64) (*model.WithdrawalRequest, error) {
	return s.approveResp, s.approveErr
}

func (s *stubService) RejectWithdrawal(ctx context.Context, requestID, adminID int64, reason string) error {
	return s.rejectErr
}

func (s *stubService) GetEarnings(ctx context.Context, limit int) ([]model.AdminEarning, error) {
	return s.earningsResp, s.earningsErr
}

func (s *stubService) GetReconciliationFlags(ctx context.Context) ([]model.ReconciliationFlag, error) {
	return s.flagsResp, s.flagsErr
}

const (
	testPaymentSecret = "payment-secret"
	testWebhookSecret = "webhook-secret"
)

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, testPaymentSecret, testWebhookSecret)
}

// serveAs прогоняет запрос через auth middleware с токеном указанного пользователя.
func serveAs(t *testing.T, h *Handler, userID int64, role model.Role, fn http.HandlerFunc, req *http.Request) *http.Response {
	t.Helper()

	token, err := h.authMiddleware.IssueToken(userID, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	h.authMiddleware.Middleware(fn).ServeHTTP(rec, req)
	return rec.Result()
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "seller",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("empty token in response")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{
		registerErr: repository.ErrUserExists,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "seller",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestLogin_Unauthorized(t *testing.T) {
	svc := &stubService{
		authErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "seller",
		Password: "wrong",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestGetWallet_JSONResponse(t *testing.T) {
	svc := &stubService{
		walletResp: &model.Wallet{
			SellerID:       1,
			PendingCents:   150050,
			AvailableCents: 20000,
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/seller/wallet", nil)
	res := serveAs(t, h, 1, model.RoleSeller, h.GetWallet, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp walletResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Pending != 1500.5 {
		t.Fatalf("pending = %v, want 1500.5", resp.Pending)
	}
	if resp.Available != 200 {
		t.Fatalf("available = %v, want 200", resp.Available)
	}
}

func TestGetTransactions_NoContent(t *testing.T) {
	svc := &stubService{
		txsResp: []model.Transaction{},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/seller/wallet/transactions", nil)
	res := serveAs(t, h, 1, model.RoleSeller, h.GetTransactions, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestCreateWithdrawal_ReasonCodes(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantCode   string
	}{
		{name: "below minimum", serviceErr: service.ErrBelowMinimum, wantCode: "below_minimum"},
		{name: "invalid bank details", serviceErr: service.ErrInvalidBankDetails, wantCode: "invalid_bank_details"},
		{name: "kyc incomplete", serviceErr: service.ErrKYCIncomplete, wantCode: "kyc_incomplete"},
		{name: "insufficient balance", serviceErr: repository.ErrInsufficientBalance, wantCode: "insufficient_balance"},
		{name: "pending request exists", serviceErr: repository.ErrPendingRequestExists, wantCode: "pending_request_exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{withdrawErr: tt.serviceErr}
			h := newTestHandler(t, svc)

			body, _ := json.Marshal(withdrawRequest{
				Amount:            600,
				BankAccountNumber: "40817810099910004312",
				RoutingCode:       "SBIN0001234",
				AccountHolderName: "Ivan Petrov",
			})

			req := httptest.NewRequest(http.MethodPost, "/api/seller/withdrawals", bytes.NewReader(body))
			res := serveAs(t, h, 1, model.RoleSeller, h.CreateWithdrawal, req)
			defer res.Body.Close()

			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
			}

			var resp errorResponse
			if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Error != tt.wantCode {
				t.Fatalf("error code = %q, want %q", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestCreateWithdrawal_Created(t *testing.T) {
	svc := &stubService{
		withdrawResp: &model.WithdrawalRequest{
			ID:          7,
			SellerID:    1,
			AmountCents: 60000,
			Status:      model.WithdrawalPending,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(withdrawRequest{
		Amount:            600,
		BankAccountNumber: "40817810099910004312",
		RoutingCode:       "SBIN0001234",
		AccountHolderName: "Ivan Petrov",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/seller/withdrawals", bytes.NewReader(body))
	res := serveAs(t, h, 1, model.RoleSeller, h.CreateWithdrawal, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp withdrawalResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 7 || resp.Amount != 600 || resp.Status != string(model.WithdrawalPending) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetWithdrawals_NoContent(t *testing.T) {
	svc := &stubService{
		withdrawalsResp: []model.WithdrawalRequest{},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/seller/withdrawals", nil)
	res := serveAs(t, h, 1, model.RoleSeller, h.GetWithdrawals, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}
