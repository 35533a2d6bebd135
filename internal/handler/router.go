package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/settlement-system/internal/middleware"
	"github.com/mmeshcher/settlement-system/internal/model"
)

// NewRouter собирает маршрутизатор сервиса.
// Вебхуки аутентифицируются подписью тела, остальные ручки — bearer-токеном.
func (h *Handler) NewRouter(log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger(log))
	r.Use(middleware.GzipMiddleware)

	r.Post("/api/auth/register", h.Register)
	r.Post("/api/auth/login", h.Login)

	r.Post("/api/payments/verify", h.VerifyPayment)
	r.Post("/api/webhooks/shipment", h.CourierWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(middleware.RequireRole(model.RoleSeller))

		r.Get("/api/seller/wallet", h.GetWallet)
		r.Get("/api/seller/wallet/transactions", h.GetTransactions)
		r.Post("/api/seller/withdrawals", h.CreateWithdrawal)
		r.Get("/api/seller/withdrawals", h.GetWithdrawals)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(middleware.RequireRole(model.RoleAdmin))

		r.Get("/api/admin/withdrawals", h.ListWithdrawals)
		r.Get("/api/admin/withdrawals/{id}", h.GetWithdrawal)
		r.Post("/api/admin/withdrawals/{id}/approve", h.ApproveWithdrawal)
		r.Post("/api/admin/withdrawals/{id}/reject", h.RejectWithdrawal)
		r.Get("/api/admin/earnings", h.GetEarnings)
		r.Get("/api/admin/reconciliation", h.GetReconciliationFlags)
		r.Get("/api/admin/orders/{id}", h.GetOrder)
		r.Post("/api/admin/orders/{id}/status", h.OverrideOrderStatus)
		r.Post("/api/admin/orders/{id}/ship", h.ShipOrder)
		r.Post("/api/admin/sellers/{id}/kyc", h.VerifySellerKYC)
		r.Get("/api/admin/sellers/{id}/wallet", h.AuditSellerWallet)

		r.Post("/api/internal/orders", h.RegisterOrder)
		r.Post("/api/internal/wallet/credit", h.CreditWallet)
		r.Post("/api/internal/wallet/release", h.ReleaseWallet)
	})

	return r
}
