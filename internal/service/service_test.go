package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/settlement-system/internal/model"
	"github.com/mmeshcher/settlement-system/internal/repository"
	"github.com/mmeshcher/settlement-system/internal/shipment"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type stubRepo struct {
	createUserID  int64
	createUserErr error

	userByLogin    *model.User
	userByLoginErr error

	userByID    *model.User
	userByIDErr error

	order    *model.Order
	orderErr error

	createOrderErr error

	wallet    *model.Wallet
	walletErr error

	ledgerSum    int64
	ledgerSumErr error

	creditErr  error
	releaseErr error
	reverseErr error

	lastCreditedOrder string
	lastReleasedOrder string
	lastReversedOrder string

	lastStatusOrder string
	lastStatus      model.OrderStatus
	statusErr       error

	stuckOrders    []model.Order
	stuckOrdersErr error

	createdFlags []*model.ReconciliationFlag
	flagErr      error

	createWithdrawalResp *model.WithdrawalRequest
	createWithdrawalErr  error

	claimResp *model.WithdrawalRequest
	claimErr  error

	markProcessingErr error

	completeErr       error
	completeCalled    bool
	completeReference string

	failCalled bool
	failReason string
	failErr    error

	rejectErr error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.userByLogin, s.userByLoginErr
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.userByID, s.userByIDErr
}

func (s *stubRepo) SetKYCVerified(ctx context.Context, sellerID int64) error { return nil }

func (s *stubRepo) CreateOrder(ctx context.Context, o *model.Order) error {
	return s.createOrderErr
}

func (s *stubRepo) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubRepo) MarkOrderPaid(ctx context.Context, orderID string) error { return nil }

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) error {
	s.lastStatusOrder = orderID
	s.lastStatus = status
	return s.statusErr
}

func (s *stubRepo) SetOrderShipment(ctx context.Context, orderID, trackingCode, courierName string) error {
	return nil
}

func (s *stubRepo) GetStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]model.Order, error) {
	return s.stuckOrders, s.stuckOrdersErr
}

func (s *stubRepo) GetWallet(ctx context.Context, sellerID int64) (*model.Wallet, error) {
	return s.wallet, s.walletErr
}

func (s *stubRepo) GetTransactionsBySeller(ctx context.Context, sellerID int64, limit int) ([]model.Transaction, error) {
	return nil, nil
}

func (s *stubRepo) SumCompletedTransactions(ctx context.Context, sellerID int64) (int64, error) {
	return s.ledgerSum, s.ledgerSumErr
}

func (s *stubRepo) CreditPending(ctx context.Context, orderID string) error {
	s.lastCreditedOrder = orderID
	return s.creditErr
}

func (s *stubRepo) ReleaseToAvailable(ctx context.Context, orderID string) error {
	s.lastReleasedOrder = orderID
	return s.releaseErr
}

func (s *stubRepo) ReversePending(ctx context.Context, orderID string, newStatus model.OrderStatus) error {
	s.lastReversedOrder = orderID
	return s.reverseErr
}

func (s *stubRepo) GetEarnings(ctx context.Context, limit int) ([]model.AdminEarning, error) {
	return nil, nil
}

func (s *stubRepo) CreateWithdrawalRequest(ctx context.Context, sellerID, amountCents int64, bank model.BankDetails) (*model.WithdrawalRequest, error) {
	return s.createWithdrawalResp, s.createWithdrawalErr
}

func (s *stubRepo) GetWithdrawalByID(ctx context.Context, id int64) (*model.WithdrawalRequest, error) {
	return s.claimResp, s.claimErr
}

func (s *stubRepo) GetWithdrawalsBySeller(ctx context.Context, sellerID int64) ([]model.WithdrawalRequest, error) {
	return nil, nil
}

func (s *stubRepo) ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	return nil, nil
}

func (s *stubRepo) ClaimWithdrawal(ctx context.Context, id, adminID int64) (*model.WithdrawalRequest, error) {
	return s.claimResp, s.claimErr
}

func (s *stubRepo) MarkWithdrawalProcessing(ctx context.Context, id int64) error {
	return s.markProcessingErr
}

func (s *stubRepo) CompleteWithdrawal(ctx context.Context, req *model.WithdrawalRequest, payoutReference string) error {
	s.completeCalled = true
	s.completeReference = payoutReference
	return s.completeErr
}

func (s *stubRepo) FailWithdrawal(ctx context.Context, id int64, reason string) error {
	s.failCalled = true
	s.failReason = reason
	return s.failErr
}

func (s *stubRepo) RejectWithdrawal(ctx context.Context, id, adminID int64, reason string) error {
	return s.rejectErr
}

func (s *stubRepo) CreateReconciliationFlag(ctx context.Context, f *model.ReconciliationFlag) error {
	if s.flagErr != nil {
		return s.flagErr
	}
	s.createdFlags = append(s.createdFlags, f)
	return nil
}

func (s *stubRepo) GetReconciliationFlags(ctx context.Context) ([]model.ReconciliationFlag, error) {
	return nil, nil
}

type stubGateway struct {
	payoutID string
	err      error

	lastReference   string
	lastAmountCents int64
}

func (g *stubGateway) CreatePayout(ctx context.Context, bank model.BankDetails, amountCents int64, reference string) (string, error) {
	g.lastReference = reference
	g.lastAmountCents = amountCents
	return g.payoutID, g.err
}

type stubCourier struct {
	shipment *shipment.Shipment
	err      error
}

func (c *stubCourier) CreateShipment(ctx context.Context, req shipment.CreateRequest) (*shipment.Shipment, error) {
	return c.shipment, c.err
}

func newTestService(repo Repository, gateway PayoutGateway) *Service {
	return NewService(repo, gateway, &stubCourier{}, nil, Config{})
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc := newTestService(repo, nil)

	_, err := svc.RegisterUser(context.Background(), "login", "pass", model.RoleSeller)
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_Success(t *testing.T) {
	hashed := hashPassword("user", "correct")
	repo := &stubRepo{
		userByLogin: &model.User{
			ID:           1,
			Login:        "user",
			PasswordHash: hashed,
			Role:         model.RoleSeller,
		},
	}
	svc := newTestService(repo, nil)

	u, err := svc.AuthenticateUser(context.Background(), "user", "correct")
	if err != nil {
		t.Fatalf("AuthenticateUser error: %v", err)
	}
	if u.ID != 1 {
		t.Fatalf("user id = %d, want 1", u.ID)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("user", "correct")
	repo := &stubRepo{
		userByLogin: &model.User{
			ID:           1,
			Login:        "user",
			PasswordHash: hashed,
			Role:         model.RoleSeller,
		},
	}
	svc := newTestService(repo, nil)

	_, err := svc.AuthenticateUser(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterOrder_AmountValidation(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil)

	tests := []struct {
		name       string
		total      int64
		commission int64
	}{
		{name: "zero total", total: 0, commission: 0},
		{name: "negative commission", total: 1000, commission: -1},
		{name: "commission above total", total: 1000, commission: 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterOrder(context.Background(), "ord-1", 1, tt.total, tt.commission, model.PaymentOnline)
			if !errors.Is(err, ErrInvalidOrderAmounts) {
				t.Fatalf("expected ErrInvalidOrderAmounts, got %v", err)
			}
		})
	}
}

func TestRegisterOrder_ComputesSellerShare(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil)

	o, err := svc.RegisterOrder(context.Background(), "ord-1", 1, 100000, 15000, model.PaymentOnline)
	if err != nil {
		t.Fatalf("RegisterOrder error: %v", err)
	}
	if o.SellerCents != 85000 {
		t.Fatalf("seller share = %d, want 85000", o.SellerCents)
	}
	if o.PaymentStatus != model.PaymentPending {
		t.Fatalf("payment status = %q, want %q", o.PaymentStatus, model.PaymentPending)
	}
}

func TestAuditWallet(t *testing.T) {
	tests := []struct {
		name           string
		pending        int64
		available      int64
		ledgerSum      int64
		wantConsistent bool
	}{
		{name: "consistent wallet", pending: 85000, available: 20000, ledgerSum: 105000, wantConsistent: true},
		{name: "ledger mismatch", pending: 85000, available: 20000, ledgerSum: 100000, wantConsistent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{
				wallet:    &model.Wallet{SellerID: 1, PendingCents: tt.pending, AvailableCents: tt.available},
				ledgerSum: tt.ledgerSum,
			}
			svc := newTestService(repo, nil)

			audit, err := svc.AuditWallet(context.Background(), 1)
			if err != nil {
				t.Fatalf("AuditWallet error: %v", err)
			}
			if audit.Consistent != tt.wantConsistent {
				t.Fatalf("consistent = %v, want %v", audit.Consistent, tt.wantConsistent)
			}
			if audit.LedgerCents != tt.ledgerSum {
				t.Fatalf("ledger sum = %d, want %d", audit.LedgerCents, tt.ledgerSum)
			}
		})
	}
}

func TestStartReconciliationSweep_StopsOnContextCancel(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, nil, Config{SweepInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	svc.StartReconciliationSweep(ctx)

	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
}

func TestSweepStuckOrders_FlagsOrders(t *testing.T) {
	repo := &stubRepo{
		stuckOrders: []model.Order{
			{ID: "ord-1", SellerID: 2, SellerCents: 85000, UpdatedAt: time.Now().Add(-48 * time.Hour)},
		},
	}
	svc := newTestService(repo, nil)

	svc.sweepStuckOrders(context.Background())

	if len(repo.createdFlags) != 1 {
		t.Fatalf("flags created = %d, want 1", len(repo.createdFlags))
	}
	flag := repo.createdFlags[0]
	if flag.OrderID != "ord-1" || flag.Reason != model.FlagStuckRelease {
		t.Fatalf("unexpected flag: %+v", flag)
	}
}
