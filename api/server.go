/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/purchases/*   Purchase lifecycle
  /api/offers/*      Offer reads, withdrawal, status refresh
  /api/customers/*   Balance, bulk cancellation, soft-delete
  /api/companies/*   Balance, soft-delete
  /api/products/*    Soft-delete
  /api/categories/*  Soft-delete
  /api/audit/*       Audit trail reads

SECURITY NOTE:
  Identity comes from the X-User-ID header with no verification here. An
  authenticating gateway must sit in front of this service in production.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", h.CreatePurchase)
			r.Get("/{id}", h.GetPurchase)
			r.Delete("/{id}", h.CancelPurchase)
		})

		r.Route("/offers", func(r chi.Router) {
			r.Post("/refresh", h.RefreshOffers)
			r.Get("/{id}", h.GetOffer)
			r.Post("/{id}/withdraw", h.WithdrawOffer)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetCustomerBalance)
			r.Post("/{id}/cancel-purchases", h.CancelCustomerPurchases)
			r.Delete("/{id}", h.DeleteCustomer)
		})

		r.Route("/companies", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetCompanyBalance)
			r.Delete("/{id}", h.DeleteCompany)
		})

		r.Delete("/products/{id}", h.DeleteProduct)
		r.Delete("/categories/{id}", h.DeleteCategory)

		r.Get("/audit/{entity}/{id}", h.ListAuditTrail)
	})

	return r
}
