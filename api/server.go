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
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/branches/*       Branch directory and per-branch policies
  /api/parts/*          Org unit employees
  /api/employees/*      Employee lookups and adjustments
  /api/admin/*          Grant run operations

SECURITY NOTE:
  Identity arrives in X-Actor-ID / X-Actor-Role headers set by the
  surrounding platform's auth gateway. This service trusts them and only
  enforces role gates.

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
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Actor-ID", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Branch routes
		r.Route("/branches", func(r chi.Router) {
			r.Get("/", h.ListBranches)
			r.Post("/", h.CreateBranch)
			r.Route("/{branchID}", func(r chi.Router) {
				r.Get("/", h.GetBranch)
				r.Get("/parts", h.ListParts)
				r.Post("/parts", h.CreatePart)
				r.Get("/policies", h.GetPolicies)
				r.Patch("/policies", h.UpdatePolicies)
				r.Get("/policies/history", h.ListPolicyHistory)
			})
		})

		// Org unit routes
		r.Route("/parts/{partID}", func(r chi.Router) {
			r.Get("/employees", h.ListEmployees)
			r.Post("/employees", h.CreateEmployee)
		})

		// Employee routes
		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/", h.GetEmployee)
			r.Post("/adjustments", h.CreateAdjustment)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/grant-runs", h.TriggerGrantRun)
			r.Get("/grant-runs", h.ListGrantRuns)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
