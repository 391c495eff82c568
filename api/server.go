/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the back-office frontend
  5. Auth:       Bearer token -> authz.Caller (everything under /api)

ROUTE GROUPS:
  /health               Liveness, no token required
  /api/quotes           Tarification
  /api/partners         Rate schedules
  /api/claims/*         Claim lifecycle
  /api/quittances/*     Approval workflow
  /api/reports/*        Exports (JSON, xlsx)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Post("/quotes", h.Quote)
		r.Get("/partners", h.ListPartners)

		r.Route("/claims", func(r chi.Router) {
			r.Get("/", h.ListClaims)
			r.Post("/", h.DeclareClaim)
			r.Get("/{id}", h.GetClaim)
			r.Post("/{id}/transitions", h.TransitionClaim)
			r.Get("/{id}/quittances", h.ClaimQuittances)
			r.Get("/{id}/history", h.ClaimHistory)
			r.Get("/{id}/report", h.ClaimReport)
		})

		r.Route("/quittances", func(r chi.Router) {
			r.Get("/queue", h.Queue)
			r.Get("/{id}", h.GetQuittance)
			r.Post("/{id}/transitions", h.TransitionQuittance)
			r.Get("/{id}/history", h.QuittanceHistory)
			r.Get("/{id}/report", h.QuittanceReport)
		})

		r.Get("/reports/sla", h.SLAReport)
		r.Get("/reports/sla.xlsx", h.SLAExport)
	})

	return r
}
