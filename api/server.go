/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the household frontend

ROUTE GROUPS:
  /api/cron/settlement        External scheduler trigger (shared secret)
  /api/families/*             Schedule, tiers, settlement + report history
  /api/children/*             Credit settings, settlement history

SECURITY:
  The cron trigger requires the X-Cron-Secret header; everything else is
  behind whatever proxy auth fronts the app.

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Cron-Secret"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// External scheduler trigger; GET and POST both accepted since
		// cron services differ.
		r.Get("/cron/settlement", h.TriggerSettlement)
		r.Post("/cron/settlement", h.TriggerSettlement)

		r.Route("/families", func(r chi.Router) {
			r.Get("/", h.ListFamilies)
			r.Post("/", h.SaveFamily)
			r.Get("/{id}", h.GetFamily)
			r.Get("/{id}/tiers", h.GetTiers)
			r.Put("/{id}/tiers", h.ReplaceTiers)
			r.Get("/{id}/settlements", h.ListSettlements)
			r.Get("/{id}/reports", h.ListReports)
		})

		r.Route("/children", func(r chi.Router) {
			r.Get("/{id}/credit", h.GetCreditSettings)
			r.Put("/{id}/credit", h.SaveCreditSettings)
			r.Get("/{id}/settlements", h.ListChildSettlements)
		})
	})

	return r
}
