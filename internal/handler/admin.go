package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/settlement-system/internal/middleware"
	"github.com/mmeshcher/settlement-system/internal/model"
	"github.com/mmeshcher/settlement-system/internal/repository"
	"github.com/mmeshcher/settlement-system/internal/service"
)

// ListWithdrawals возвращает запросы на вывод средств, опционально по статусу.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	status := model.WithdrawalStatus(r.URL.Query().Get("status"))

	withdrawals, err := h.service.ListWithdrawals(r.Context(), status)
	if err != nil {
		h.internalError(w, "list withdrawals error", err)
		return
	}

	resp := make([]withdrawalResponse, 0, len(withdrawals))
	for i := range withdrawals {
		resp = append(resp, toWithdrawalResponse(&withdrawals[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ApproveWithdrawal одобряет запрос на вывод и инициирует выплату через внешний шлюз.
// При неизвестном исходе вызова шлюза запрос остаётся в processing и возвращается 202.
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	requestID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req, err := h.service.ApproveWithdrawal(r.Context(), requestID, adminID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toWithdrawalResponse(req))
	case errors.Is(err, service.ErrPayoutPending):
		writeJSON(w, http.StatusAccepted, toWithdrawalResponse(req))
	case errors.Is(err, repository.ErrRequestNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrRequestNotPending):
		writeError(w, http.StatusConflict, "request_not_pending")
	default:
		h.internalError(w, "approve withdrawal error", err, zap.Int64("requestID", requestID))
	}
}

// GetWithdrawal возвращает запрос на вывод по идентификатору.
func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	requestID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req, err := h.service.GetWithdrawal(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.internalError(w, "get withdrawal error", err, zap.Int64("requestID", requestID))
		return
	}

	writeJSON(w, http.StatusOK, toWithdrawalResponse(req))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectWithdrawal отклоняет запрос на вывод средств с указанием причины.
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	requestID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason_required")
		return
	}

	err = h.service.RejectWithdrawal(r.Context(), requestID, adminID, req.Reason)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, repository.ErrRequestNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrRequestNotPending):
		writeError(w, http.StatusConflict, "request_not_pending")
	default:
		h.internalError(w, "reject withdrawal error", err, zap.Int64("requestID", requestID))
	}
}

type earningResponse struct {
	OrderID    string  `json:"order_id"`
	SellerID   int64   `json:"seller_id"`
	Commission float64 `json:"commission"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
}

// GetEarnings возвращает комиссионные записи площадки.
func (h *Handler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	earnings, err := h.service.GetEarnings(r.Context(), limit)
	if err != nil {
		h.internalError(w, "get earnings error", err)
		return
	}

	resp := make([]earningResponse, 0, len(earnings))
	for _, e := range earnings {
		resp = append(resp, earningResponse{
			OrderID:    e.OrderID,
			SellerID:   e.SellerID,
			Commission: float64(e.CommissionCents) / 100,
			Status:     string(e.Status),
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type reconciliationFlagResponse struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	SellerID  int64  `json:"seller_id"`
	Reason    string `json:"reason"`
	Details   string `json:"details"`
	CreatedAt string `json:"created_at"`
}

// GetReconciliationFlags возвращает очередь ручной сверки.
func (h *Handler) GetReconciliationFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.service.GetReconciliationFlags(r.Context())
	if err != nil {
		h.internalError(w, "get reconciliation flags error", err)
		return
	}

	resp := make([]reconciliationFlagResponse, 0, len(flags))
	for _, f := range flags {
		resp = append(resp, reconciliationFlagResponse{
			ID:        f.ID,
			OrderID:   f.OrderID,
			SellerID:  f.SellerID,
			Reason:    string(f.Reason),
			Details:   f.Details,
			CreatedAt: f.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

// OverrideOrderStatus вручную меняет статус заказа. Статусы, влияющие на расчёты,
// проходят через машину состояний с теми же гарантиями, что и события извне.
func (h *Handler) OverrideOrderStatus(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "id")

	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.OrderStatus(req.Status)
	switch status {
	case model.OrderConfirmed, model.OrderDispatched, model.OrderDelivered,
		model.OrderCancelled, model.OrderReturned:
	default:
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}

	err := h.service.ApplyOrderStatus(r.Context(), orderID, status, adminID)
	h.respondEngineResult(w, orderID, err)
}

// GetOrder возвращает заказ со статусом расчётов по нему.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	o, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.internalError(w, "get order error", err, zap.String("order", orderID))
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{
		ID:            o.ID,
		SellerID:      o.SellerID,
		Total:         float64(o.TotalCents) / 100,
		Commission:    float64(o.CommissionCents) / 100,
		SellerAmount:  float64(o.SellerCents) / 100,
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		Status:        string(o.Status),
	})
}

type shipOrderRequest struct {
	PickupAddress   string `json:"pickup_address"`
	DeliveryAddress string `json:"delivery_address"`
}

type shipmentResponse struct {
	ShipmentID   string `json:"shipment_id"`
	TrackingCode string `json:"tracking_code"`
	CourierName  string `json:"courier_name"`
}

// ShipOrder регистрирует отправку заказа в курьерской службе.
func (h *Handler) ShipOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req shipOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.PickupAddress == "" || req.DeliveryAddress == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sh, err := h.service.CreateShipment(r.Context(), orderID, req.PickupAddress, req.DeliveryAddress)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.internalError(w, "create shipment error", err, zap.String("order", orderID))
		return
	}

	writeJSON(w, http.StatusCreated, shipmentResponse{
		ShipmentID:   sh.ShipmentID,
		TrackingCode: sh.TrackingCode,
		CourierName:  sh.CourierName,
	})
}

type walletAuditResponse struct {
	Pending     float64 `json:"pending"`
	Available   float64 `json:"available"`
	LedgerTotal float64 `json:"ledger_total"`
	Consistent  bool    `json:"consistent"`
}

// AuditSellerWallet сверяет кошелёк продавца с журналом операций.
// Сумма завершённых записей журнала должна совпадать с pending + available.
func (h *Handler) AuditSellerWallet(w http.ResponseWriter, r *http.Request) {
	sellerID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	audit, err := h.service.AuditWallet(r.Context(), sellerID)
	if err != nil {
		h.internalError(w, "wallet audit error", err, zap.Int64("sellerID", sellerID))
		return
	}

	writeJSON(w, http.StatusOK, walletAuditResponse{
		Pending:     float64(audit.Wallet.PendingCents) / 100,
		Available:   float64(audit.Wallet.AvailableCents) / 100,
		LedgerTotal: float64(audit.LedgerCents) / 100,
		Consistent:  audit.Consistent,
	})
}

// VerifySellerKYC отмечает KYC продавца как пройденный.
func (h *Handler) VerifySellerKYC(w http.ResponseWriter, r *http.Request) {
	sellerID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.VerifyKYC(r.Context(), sellerID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.internalError(w, "verify kyc error", err, zap.Int64("sellerID", sellerID))
		return
	}

	w.WriteHeader(http.StatusOK)
}
