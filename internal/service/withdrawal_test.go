package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mmeshcher/settlement-system/internal/model"
	"github.com/mmeshcher/settlement-system/internal/payout"
)

var validBank = model.BankDetails{
	AccountNumber:     "40817810099910004312",
	RoutingCode:       "SBIN0001234",
	AccountHolderName: "Ivan Petrov",
}

func verifiedSeller() *model.User {
	return &model.User{ID: 1, Login: "seller", Role: model.RoleSeller, KYCVerified: true}
}

func TestRequestWithdrawal_BelowMinimum(t *testing.T) {
	svc := newTestService(&stubRepo{userByID: verifiedSeller()}, nil)

	_, err := svc.RequestWithdrawal(context.Background(), 1, MinWithdrawalCents-1, validBank)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestRequestWithdrawal_InvalidBankDetails(t *testing.T) {
	svc := newTestService(&stubRepo{userByID: verifiedSeller()}, nil)

	bank := validBank
	bank.RoutingCode = "bad-code"

	_, err := svc.RequestWithdrawal(context.Background(), 1, MinWithdrawalCents, bank)
	if !errors.Is(err, ErrInvalidBankDetails) {
		t.Fatalf("expected ErrInvalidBankDetails, got %v", err)
	}
}

func TestRequestWithdrawal_KYCIncomplete(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: 1, Login: "seller", Role: model.RoleSeller},
	}
	svc := newTestService(repo, nil)

	_, err := svc.RequestWithdrawal(context.Background(), 1, MinWithdrawalCents, validBank)
	if !errors.Is(err, ErrKYCIncomplete) {
		t.Fatalf("expected ErrKYCIncomplete, got %v", err)
	}
}

func TestRequestWithdrawal_Success(t *testing.T) {
	repo := &stubRepo{
		userByID: verifiedSeller(),
		createWithdrawalResp: &model.WithdrawalRequest{
			ID:          7,
			SellerID:    1,
			AmountCents: MinWithdrawalCents,
			Status:      model.WithdrawalPending,
		},
	}
	svc := newTestService(repo, nil)

	req, err := svc.RequestWithdrawal(context.Background(), 1, MinWithdrawalCents, validBank)
	if err != nil {
		t.Fatalf("RequestWithdrawal error: %v", err)
	}
	if req.Status != model.WithdrawalPending {
		t.Fatalf("status = %q, want %q", req.Status, model.WithdrawalPending)
	}
}

func claimedRequest() *model.WithdrawalRequest {
	return &model.WithdrawalRequest{
		ID:          5,
		SellerID:    1,
		AmountCents: 60000,
		Bank:        validBank,
		Status:      model.WithdrawalApproved,
	}
}

func TestApproveWithdrawal_Success(t *testing.T) {
	repo := &stubRepo{claimResp: claimedRequest()}
	gateway := &stubGateway{payoutID: "pay-123"}
	svc := newTestService(repo, gateway)

	req, err := svc.ApproveWithdrawal(context.Background(), 5, 99)
	if err != nil {
		t.Fatalf("ApproveWithdrawal error: %v", err)
	}

	if req.Status != model.WithdrawalCompleted {
		t.Fatalf("status = %q, want %q", req.Status, model.WithdrawalCompleted)
	}
	if req.PayoutReference != "pay-123" {
		t.Fatalf("payout reference = %q, want pay-123", req.PayoutReference)
	}
	if !repo.completeCalled {
		t.Fatalf("ledger debit was not recorded")
	}
	if gateway.lastAmountCents != 60000 {
		t.Fatalf("payout amount = %d, want 60000", gateway.lastAmountCents)
	}
}

func TestApproveWithdrawal_DeclinedFailsWithoutDebit(t *testing.T) {
	repo := &stubRepo{claimResp: claimedRequest()}
	gateway := &stubGateway{err: fmt.Errorf("%w: account closed", payout.ErrDeclined)}
	svc := newTestService(repo, gateway)

	req, err := svc.ApproveWithdrawal(context.Background(), 5, 99)
	if err != nil {
		t.Fatalf("declined payout must not be an error, got %v", err)
	}

	if req.Status != model.WithdrawalFailed {
		t.Fatalf("status = %q, want %q", req.Status, model.WithdrawalFailed)
	}
	if !repo.failCalled {
		t.Fatalf("request was not marked failed")
	}
	if repo.completeCalled {
		t.Fatalf("ledger must not be debited on declined payout")
	}
}

func TestApproveWithdrawal_UnknownOutcomeLeavesProcessing(t *testing.T) {
	repo := &stubRepo{claimResp: claimedRequest()}
	gateway := &stubGateway{err: context.DeadlineExceeded}
	svc := newTestService(repo, gateway)

	req, err := svc.ApproveWithdrawal(context.Background(), 5, 99)
	if !errors.Is(err, ErrPayoutPending) {
		t.Fatalf("expected ErrPayoutPending, got %v", err)
	}

	if req.Status != model.WithdrawalProcessing {
		t.Fatalf("status = %q, want %q", req.Status, model.WithdrawalProcessing)
	}
	if repo.failCalled {
		t.Fatalf("request must not be failed on unknown outcome")
	}
	if repo.completeCalled {
		t.Fatalf("ledger must not be debited on unknown outcome")
	}
}

func TestApproveWithdrawal_DebitFailureLeavesProcessing(t *testing.T) {
	repo := &stubRepo{
		claimResp:   claimedRequest(),
		completeErr: context.DeadlineExceeded,
	}
	gateway := &stubGateway{payoutID: "pay-123"}
	svc := newTestService(repo, gateway)

	req, err := svc.ApproveWithdrawal(context.Background(), 5, 99)
	if !errors.Is(err, ErrPayoutPending) {
		t.Fatalf("expected ErrPayoutPending, got %v", err)
	}
	if req.Status != model.WithdrawalProcessing {
		t.Fatalf("status = %q, want %q", req.Status, model.WithdrawalProcessing)
	}
}
