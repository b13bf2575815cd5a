/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

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
  4. CORS:       Cross-origin requests for admin tooling

ROUTE GROUPS:
  /api/timesheets/*  Timesheet intake, snapshots, validations, evidence
  /api/candidates/*  Candidate records and override rates
  /api/clients/*     Client records, default rates, settings
  /api/umbrellas     Umbrella companies
  /api/policy        Global default policy
  /api/outbox/*      Queue inspection and manual drain
  /api/invoices/*    Promotion, invoicing, credit notes
  /api/scenarios/*   Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Timesheet routes
		r.Route("/timesheets", func(r chi.Router) {
			r.Post("/", h.SubmitTimesheet)
			r.Get("/{id}", h.GetTimesheet)
			r.Post("/{id}/revoke", h.RevokeTimesheet)
			r.Post("/{id}/recompute", h.RecomputeTimesheet)
			r.Get("/{id}/financials", h.GetFinancials)
			r.Get("/{id}/financials/history", h.GetFinancialsHistory)
			r.Post("/{id}/validations", h.SubmitValidation)
			r.Post("/{id}/evidence", h.SubmitEvidence)
		})

		// Candidate routes
		r.Route("/candidates", func(r chi.Router) {
			r.Post("/", h.CreateCandidate)
			r.Post("/{id}/rates", h.CreateCandidateRate)
		})

		// Client routes
		r.Route("/clients", func(r chi.Router) {
			r.Post("/", h.CreateClient)
			r.Post("/{id}/rates", h.CreateClientRate)
			r.Post("/{id}/settings", h.CreateClientSettings)
		})

		r.Post("/umbrellas", h.CreateUmbrella)
		r.Put("/policy", h.UpdateDefaultPolicy)

		// Outbox routes
		r.Route("/outbox", func(r chi.Router) {
			r.Get("/", h.ListOutbox)
			r.Post("/drain", h.DrainOutbox)
		})

		// Invoicing routes
		r.Route("/invoices", func(r chi.Router) {
			r.Post("/promote", h.PromoteTimesheets)
			r.Post("/", h.CreateInvoice)
			r.Get("/", h.ListInvoices)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/credit-note", h.CreateCreditNote)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
