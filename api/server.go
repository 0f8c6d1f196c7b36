/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /health                  Liveness
  /metrics                 Prometheus scrape endpoint
  /api/policies/*          Policy book
  /api/rules/*             Recompute
  /api/collections         Debt prioritization
  /api/reconciliation/*    Carrier reconciliation
  /api/import/*            Workbook uploads
  /api/export/*            Workbook downloads
  /api/settings/*          Engine overrides
  /api/runs                Audit

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. gatherer is
// served on /metrics; nil uses the default registry.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.UpsertPolicy)
			r.Get("/{number}", h.GetPolicy)
		})

		r.Post("/rules/recompute", h.Recompute)
		r.Get("/collections", h.Collections)

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/", h.Reconcile)
			r.Get("/periods", h.ListPeriods)
		})

		r.Route("/import", func(r chi.Router) {
			r.Post("/policies", h.ImportPolicies)
			r.Post("/indicators", h.ImportIndicators)
		})

		r.Get("/export/policies", h.ExportPolicies)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/{key}", h.PutSetting)
		})

		r.Get("/runs", h.ListRuns)
	})

	return r
}
