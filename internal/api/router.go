/**
 * @description
 * This file sets up the HTTP router for the loyalty ledger. It defines the back-office API
 * endpoints, associates them with their handlers, and applies the middleware stack
 * (request ids, panic recovery, timeouts, CORS and staff authentication).
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the staff dashboard.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the router needs beyond the handlers.
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates and returns the HTTP router for the loyalty ledger.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(StaffAuthMiddleware(cfg.JWTSecret))

		r.With(RequireAdmin).Post("/tenants", h.CreateTenantHandler)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Use(RequireTenantAccess)

			r.Get("/", h.GetTenantHandler)
			r.Put("/settings", h.UpdateTenantSettingsHandler)
			r.Post("/sessions", h.SelectTenantHandler)

			r.Post("/customers", h.EnrolCustomerHandler)
			r.Get("/customers", h.ListCustomersHandler)
			r.Get("/customers/lookup", h.FindCustomerByPhoneHandler)
			r.Route("/customers/{customerID}", func(r chi.Router) {
				r.Get("/", h.GetCustomerHandler)
				r.Put("/blocked", h.SetCustomerBlockedHandler)
				r.Get("/balance", h.GetBalanceHandler)
				r.Get("/transactions", h.ListTransactionsHandler)
				r.Get("/purchases", h.ListPurchasesHandler)
				r.Post("/adjustments", h.AdjustPointsHandler)
			})

			r.Post("/purchases", h.RecordPurchaseHandler)

			r.Post("/claims", h.SubmitClaimHandler)
			r.Get("/claims", h.ListClaimsHandler)
			r.Get("/claims/{claimID}", h.GetClaimHandler)
			r.Post("/claims/{claimID}/approve", h.ApproveClaimHandler)
			r.Post("/claims/{claimID}/reject", h.RejectClaimHandler)

			r.Post("/rewards", h.CreateRewardHandler)
			r.Get("/rewards", h.ListRewardsHandler)
			r.Get("/rewards/{rewardID}", h.GetRewardHandler)
			r.Put("/rewards/{rewardID}", h.UpdateRewardHandler)
			r.Put("/rewards/{rewardID}/active", h.SetRewardActiveHandler)
			r.Delete("/rewards/{rewardID}", h.DeleteRewardHandler)

			r.Post("/redemptions", h.RedeemRewardHandler)
			r.Get("/redemptions", h.ListRedemptionsHandler)
			r.Post("/redemptions/verify", h.VerifyRedemptionHandler)
			r.Get("/redemptions/{redemptionID}", h.GetRedemptionHandler)
			r.Post("/redemptions/{redemptionID}/fulfill", h.FulfillRedemptionHandler)
			r.Post("/redemptions/{redemptionID}/cancel", h.CancelRedemptionHandler)
		})
	})

	return r
}
