/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     slog request log (method, path, status, bytes, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Timeout:    Request deadline; the store aborts the unit of work with it
  5. CORS:       Cross-origin requests for the frontend
  6. User:       X-User-ID header, /api routes only

ROUTE GROUPS:
  /api/liabilities/*    Liability lifecycle, history, charges, payments
  /api/charges/*        Edit/delete charges
  /api/payments/*       Edit/delete payments, batch pay
  /api/plans/*          Generate, list, apply
  /api/scenarios/*      Demo data
  /healthz              Store ping

SECURITY NOTE:
  X-User-ID only scopes data to a user. It is not authentication; run the
  server behind something that sets the header from a verified identity.

SEE ALSO:
  - handlers.go: Handler implementations
  - cli/serve.go: Server startup
*/
package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		// Liability routes
		r.Route("/liabilities", func(r chi.Router) {
			r.Get("/", h.ListLiabilities)
			r.Post("/", h.CreateLiability)
			r.Get("/{id}", h.GetLiability)
			r.Put("/{id}", h.UpdateLiability)
			r.Delete("/{id}", h.DeleteLiability)
			r.Post("/{id}/close", h.CloseLiability)
			r.Post("/{id}/balance", h.CorrectBalance)
			r.Get("/{id}/entries", h.ListEntries)
			r.Get("/{id}/reconcile", h.Reconcile)
			r.Post("/{id}/charges", h.RecordCharge)
			r.Post("/{id}/payments", h.RecordPayment)
		})

		// Charge routes
		r.Route("/charges", func(r chi.Router) {
			r.Patch("/{id}", h.UpdateCharge)
			r.Delete("/{id}", h.DeleteCharge)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/batch", h.BatchPay)
			r.Patch("/{id}", h.UpdatePayment)
			r.Delete("/{id}", h.DeletePayment)
		})

		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.GeneratePlan)
			r.Get("/{id}", h.GetPlan)
			r.Post("/{id}/apply", h.ApplyPlan)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
