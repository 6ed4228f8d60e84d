/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters and latency histograms
  5. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/tabs/*            Tab, line item, billing group, rule management
  /api/line-items/*      Assignment lifecycle
  /api/billing-groups/*  Group close
  /api/rules/*           Rule update/delete
  /api/payments/*        Payment recording, allocation, reversal
  /api/audit             Audit trail query and CSV export
  /metrics               Prometheus scrape endpoint
  /healthz               Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - metrics.go: Prometheus instrumentation
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/tabs", func(r chi.Router) {
			r.Post("/", h.CreateTab)
			r.Get("/{tabID}", h.GetTab)
			r.Get("/{tabID}/line-items", h.ListLineItems)
			r.Post("/{tabID}/line-items", h.CreateLineItem)
			r.Get("/{tabID}/billing-groups", h.ListBillingGroups)
			r.Post("/{tabID}/billing-groups", h.CreateBillingGroup)
			r.Get("/{tabID}/rules", h.ListRules)
			r.Post("/{tabID}/rules", h.CreateRule)
			r.Get("/{tabID}/allocations", h.TabAllocations)
		})

		r.Route("/line-items", func(r chi.Router) {
			r.Post("/{id}/assign", h.AssignLineItem)
			r.Post("/{id}/unassign", h.UnassignLineItem)
			r.Post("/{id}/approve", h.ApproveLineItem)
			r.Post("/{id}/reject", h.RejectLineItem)
		})

		r.Route("/billing-groups", func(r chi.Router) {
			r.Delete("/{id}", h.CloseBillingGroup)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Put("/{id}", h.UpdateRule)
			r.Delete("/{id}", h.DeleteRule)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Post("/{id}/allocate", h.AllocatePayment)
			r.Post("/{id}/reverse", h.ReversePayment)
		})

		r.Get("/audit", h.AuditTrail)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
