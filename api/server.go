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
  4. CORS:       Cross-origin requests for merchant dashboards

ROUTE GROUPS:
  /api/merchants/{merchantID}/members/{memberRef}/*  Member ledger operations
  /api/merchants/{merchantID}/orders/*               Order award / refund
  /api/merchants/{merchantID}/tiers                  Tier configuration
  /api/merchants/{merchantID}/program                Program configuration

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	// API routes
	r.Route("/api/merchants/{merchantID}", func(r chi.Router) {
		r.Route("/members/{memberRef}", func(r chi.Router) {
			r.Post("/accrue", h.Accrue)
			r.Get("/balance", h.GetBalance)
			r.Get("/events", h.GetEvents)
			r.Get("/tier", h.GetTier)
			r.Post("/reconcile", h.Reconcile)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/award", h.AwardOrder)
			r.Post("/refund", h.RefundOrder)
		})

		r.Route("/tiers", func(r chi.Router) {
			r.Get("/", h.GetTierRules)
			r.Put("/", h.PutTierRules)
		})

		r.Route("/program", func(r chi.Router) {
			r.Get("/", h.GetProgram)
			r.Put("/", h.PutProgram)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
