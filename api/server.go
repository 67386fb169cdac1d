/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Cancels the request context after 30s
  6. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /healthz              Liveness + database ping
  /api/accounts/*       Accounts, balances, holds, movements
  /api/withdrawals/*    Withdrawal request lifecycle
  /api/packages/*       Savings packages
  /api/users/*          Per-user listings
  /api/customers        Notification directory
  /api/products/*       SB catalogue
  /api/ledger-entries   General ledger
  /api/scenarios/*      Demo scenarios (dev only)

SECURITY NOTE:
  No authentication middleware. The service sits behind a gateway that
  authenticates staff and forwards the actor headers.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Name", "X-Branch-ID"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.OpenAccount)
			r.Route("/{number}", func(r chi.Router) {
				r.Get("/", h.GetAccount)
				r.Put("/status", h.SetAccountStatus)
				r.Get("/balance", h.GetBalance)
				r.Get("/transactions", h.GetTransactions)
				r.Post("/deposits", h.Deposit)
				r.Post("/holds", h.PutOnHold)
				r.Post("/holds/release", h.ReleaseHold)
				r.Post("/holds/spend", h.SpendHeld)
				r.Post("/withdrawals", h.RequestWithdrawal)
			})
		})

		r.Route("/withdrawals", func(r chi.Router) {
			r.Get("/", h.ListWithdrawalRequests)
			r.Get("/{id}", h.GetWithdrawalRequest)
			r.Post("/{id}/fulfill", h.FulfillWithdrawal)
			r.Post("/{id}/reject", h.RejectWithdrawal)
		})

		r.Route("/packages", func(r chi.Router) {
			r.Post("/", h.CreatePackage)
			r.Post("/contributions", h.Contribute)
			r.Post("/withdrawals", h.WithdrawFromPackage)
			r.Post("/merge", h.MergePackages)
			r.Get("/{id}", h.GetPackage)
			r.Get("/{id}/contributions", h.ListContributions)
			r.Get("/{id}/charges", h.ListCharges)
			r.Post("/{id}/paid", h.MarkPaid)
			r.Post("/{id}/delivered", h.MarkDelivered)
		})

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/accounts", h.ListUserAccounts)
			r.Get("/packages", h.ListUserPackages)
		})

		r.Put("/customers", h.SaveCustomer)
		r.Put("/products", h.SaveProduct)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/ledger-entries", h.ListLedgerEntries)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
