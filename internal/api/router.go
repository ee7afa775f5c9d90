/**
 * @description
 * This file sets up the HTTP router for the openbanking-service using the `chi`
 * routing library. It defines all the API routes and applies necessary middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The routing library.
 * - github.com/go-chi/cors: CORS handling.
 * - The service's internal packages for handlers and middleware.
 */
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/openbanking-service/internal/app"
	"github.com/transfa/openbanking-service/internal/config"
	"github.com/transfa/openbanking-service/pkg/metrics"
	"github.com/transfa/openbanking-service/pkg/middleware"
)

// NewRouter creates and configures a new HTTP router. m and limiter may be nil.
func NewRouter(
	cfg config.Config,
	accounts *app.AccountService,
	payments *app.PaymentService,
	m *metrics.Metrics,
	limiter *middleware.RateLimiter,
	logger *slog.Logger,
) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	origins := cfg.AllowedOrigins()
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.APIKeyHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("healthy")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	accountHandler := NewAccountHandler(accounts, logger)
	paymentHandler := NewPaymentHandler(payments, logger)

	r.Group(func(r chi.Router) {
		// Unauthenticated callers are rejected before they consume a rate limit token.
		r.Use(middleware.APIKeyMiddleware(cfg.APIKey))
		r.Use(middleware.RateLimitMiddleware(limiter, cfg.HTTPRateLimitPerMinute))

		r.Post("/fetch-accounts", accountHandler.FetchAccounts)
		r.Get("/customer-exists/{customer_id}", accountHandler.CustomerExists)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", accountHandler.PreviewAccounts)
			r.Get("/{id}", accountHandler.PreviewAccounts)
			r.Get("/{id}/transactions", accountHandler.ListTransactions)
		})

		r.Get("/offers", paymentHandler.Offers)
		r.Post("/payment-initiate", paymentHandler.InitiatePayment)
		r.Route("/payment-plan", func(r chi.Router) {
			r.Post("/", paymentHandler.CreatePaymentPlan)
			r.Post("/blocks", paymentHandler.PaymentPlanBlocks)
			r.Post("/execute", paymentHandler.ExecutePaymentPlan)
		})
	})

	return r
}
