/**
 * @description
 * HTTP router setup for the crypto-ledger-service using go-chi/chi.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and standard middleware.
 * - github.com/go-chi/cors: origin allow-list for the operator dashboard.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the security and observability settings of the router.
type RouterOptions struct {
	InternalAPIKey    string
	OperatorJWTSecret string
	// AllowedOrigins enables CORS for the listed origins; empty disables it.
	AllowedOrigins []string
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new Chi router and registers the service routes.
func NewRouter(h *Handlers, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey, opts.OperatorJWTSecret))

		r.Post("/transfers", h.SubmitTransferHandler)
		r.Post("/transfers/compound", h.SubmitCompoundTransferHandler)

		r.Get("/transactions/pending", h.ListPendingHandler)
		r.Get("/transactions/{id}", h.GetTransactionHandler)

		r.Get("/balances/{currency}/{address}", h.GetBalanceHandler)

		r.Post("/internal/reconcile", h.ReconcileHandler)
	})

	return r
}
