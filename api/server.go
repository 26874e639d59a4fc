/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     slog request logging (level follows status)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/owners/{owner}/*   Per-owner ledger
  /api/owners             Owner listing
  /api/scenarios          Demo scenario catalogue
  /api/admin/*            Admin operations
  /health                 Liveness

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

	"github.com/warp/capital-ledger/logging"
)

// RouterOptions configures NewRouter. Zero value allows every origin.
type RouterOptions struct {
	CORSOrigins []string
	Logger      *logging.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(logging.OrNop(opts.Logger).WithComponent(logging.ComponentHTTP)))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/owners", h.ListOwners)
		r.Get("/scenarios", h.ListScenarios)

		r.Route("/owners/{owner}", func(r chi.Router) {
			// Transaction routes
			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListTransactions)
				r.Post("/", h.CreateTransaction)
				r.Put("/{id}", h.EditTransaction)
				r.Delete("/{id}", h.DeleteTransaction)
				r.Post("/{id}/payments", h.AddPayment)
			})

			// Summary routes
			r.Route("/summary", func(r chi.Router) {
				r.Get("/", h.GetSummary)
				r.Post("/recompute", h.RecomputeSummary)
				r.Get("/drift", h.CheckDrift)
			})

			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)

			r.Get("/credits", h.ListCredits)
			r.Get("/reports", h.GetReport)
			r.Get("/analysis/daily-sales", h.DailySales)
			r.Get("/events", h.StreamEvents)
			r.Post("/scenarios/load", h.LoadScenario)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/drift-check", h.TriggerDriftCheck)
		})
	})

	return r
}
