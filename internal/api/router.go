/**
 * @description
 * This file sets up the HTTP router for the wallet service. It defines the API
 * endpoints, associates them with their handlers, and applies middleware for
 * logging, CORS, authentication and rate limiting.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/wallet-service/internal/app"
)

// RouterOptions configures the cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins []string
	Limiter        RateLimiter
}

// NewRouter creates and returns the router for the wallet service.
func NewRouter(h *Handlers, service *app.Service, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/", h.IndexHandler)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Post("/register", h.RegisterHandler)
	r.Post("/login", h.LoginHandler)
	r.Get("/product", h.ListProductsHandler)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(service))

		r.Get("/bal", h.BalanceHandler)
		r.Get("/stmt", h.StatementHandler)
		r.Get("/insights", h.InsightsHandler)

		// Mutating endpoints draw from one per-account budget.
		limit := func(op app.LedgerOperation) func(http.Handler) http.Handler {
			return RateLimitMiddleware(opts.Limiter, op)
		}
		r.With(limit(app.OpFund)).Post("/fund", h.FundHandler)
		r.With(limit(app.OpPay)).Post("/pay", h.PayHandler)
		r.With(limit(app.OpBulkPay)).Post("/bulk-pay", h.BulkPayHandler)
		r.With(limit(app.OpAddProduct)).Post("/product", h.AddProductHandler)
		r.With(limit(app.OpPurchase)).Post("/buy", h.BuyHandler)
	})

	return r
}
