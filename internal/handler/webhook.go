package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/settlement-system/internal/model"
	"github.com/mmeshcher/settlement-system/internal/repository"
	"github.com/mmeshcher/settlement-system/internal/service"
	"github.com/mmeshcher/settlement-system/internal/validation"
)

type verifyPaymentRequest struct {
	OrderID          string `json:"order_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

// VerifyPayment обрабатывает подтверждение оплаты от платёжного шлюза.
// Подпись проверяется до любых изменений; повторное подтверждение — no-op.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OrderID == "" || req.GatewayOrderID == "" || req.GatewayPaymentID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.VerifyPaymentSignature(h.paymentSecret, req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		h.logger.Warn("payment verification signature mismatch", zap.String("order", req.OrderID))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.ConfirmPayment(r.Context(), req.OrderID); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.internalError(w, "confirm payment error", err, zap.String("order", req.OrderID))
		return
	}

	w.WriteHeader(http.StatusOK)
}

type courierEvent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// CourierWebhook обрабатывает уведомления курьерской службы о статусе доставки.
// Пустое тело подтверждается без проверки подписи: так курьер проверяет доступность.
func (h *Handler) CourierWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if len(body) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	signature := r.Header.Get("X-Courier-Signature")
	if !validation.VerifyWebhookSignature(h.webhookSecret, body, signature) {
		h.logger.Warn("courier webhook signature mismatch")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var event courierEvent
	if err := json.Unmarshal(body, &event); err != nil || event.OrderID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	switch model.OrderStatus(event.Status) {
	case model.OrderDelivered:
		err = h.service.OnOrderDelivered(r.Context(), event.OrderID)
	case model.OrderCancelled, model.OrderReturned:
		err = h.service.OnOrderCancelledOrReturned(r.Context(), event.OrderID, model.OrderStatus(event.Status))
	case model.OrderDispatched:
		err = h.service.OnOrderDispatched(r.Context(), event.OrderID)
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.respondEngineResult(w, event.OrderID, err)
}

// respondEngineResult переводит результат машины состояний расчётов в HTTP-ответ.
func (h *Handler) respondEngineResult(w http.ResponseWriter, orderID string, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, repository.ErrOrderNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrReconciliationRequired):
		writeError(w, http.StatusConflict, "reconciliation_required")
	case errors.Is(err, repository.ErrOrderNotPaid),
		errors.Is(err, repository.ErrNotCredited),
		errors.Is(err, repository.ErrAlreadyReversed),
		errors.Is(err, repository.ErrOrderClosed):
		writeError(w, http.StatusConflict, "settlement_state_conflict")
	default:
		h.internalError(w, "settlement event error", err, zap.String("order", orderID))
	}
}

type registerOrderRequest struct {
	ID            string  `json:"id"`
	SellerID      int64   `json:"seller_id"`
	Total         float64 `json:"total"`
	Commission    float64 `json:"commission"`
	PaymentMethod string  `json:"payment_method"`
}

type orderResponse struct {
	ID            string  `json:"id"`
	SellerID      int64   `json:"seller_id"`
	Total         float64 `json:"total"`
	Commission    float64 `json:"commission"`
	SellerAmount  float64 `json:"seller_amount"`
	PaymentMethod string  `json:"payment_method"`
	PaymentStatus string  `json:"payment_status"`
	Status        string  `json:"status"`
}

// RegisterOrder регистрирует срез заказа, переданный системой оформления заказов.
func (h *Handler) RegisterOrder(w http.ResponseWriter, r *http.Request) {
	var req registerOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ID == "" || req.SellerID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	method := model.PaymentMethod(req.PaymentMethod)
	if method != model.PaymentOnline && method != model.PaymentCOD {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.RegisterOrder(r.Context(), req.ID, req.SellerID,
		int64(req.Total*100), int64(req.Commission*100), method)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrInvalidOrderAmounts):
			writeError(w, http.StatusBadRequest, "invalid_order_amounts")
		default:
			h.internalError(w, "register order error", err, zap.String("order", req.ID))
		}
		return
	}

	writeJSON(w, http.StatusCreated, orderResponse{
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

type orderEventRequest struct {
	OrderID string `json:"order_id"`
}

// CreditWallet зачисляет долю продавца в pending-баланс по оплаченному заказу.
// Служебная ручка для доверенных внутренних систем.
func (h *Handler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	var req orderEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.OnPaymentConfirmed(r.Context(), req.OrderID)
	h.respondEngineResult(w, req.OrderID, err)
}

// ReleaseWallet переносит долю продавца из pending в available по доставленному заказу.
// Служебная ручка для доверенных внутренних систем.
func (h *Handler) ReleaseWallet(w http.ResponseWriter, r *http.Request) {
	var req orderEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.OnOrderDelivered(r.Context(), req.OrderID)
	h.respondEngineResult(w, req.OrderID, err)
}
