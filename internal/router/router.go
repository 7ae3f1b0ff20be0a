package router

import (
	"net/http"
	"strconv"
	"time"

	"settlement-service/internal/handler"
	authmw "settlement-service/internal/middleware"
	"settlement-service/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Payments *handler.PaymentHandler
	Admin    *handler.AdminHandler
	Wallets  *handler.WalletHandler
	Streams  *handler.IntentStreamHandler
}

// HealthCheck reports an error when a dependency is down.
type HealthCheck func(r *http.Request) error

func SetupRoutes(h Handlers, auth *authmw.Authenticator, health HealthCheck, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			if health != nil {
				if err := health(req); err != nil {
					logger.Warn("health check failed", zap.Error(err))
					http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
					return
				}
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)

			// Websocket streams outlive the request timeout.
			r.Get("/payments/intent/{id}/ws", h.Streams.Stream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))

				r.Route("/payments", func(r chi.Router) {
					r.Post("/create-intent", h.Payments.CreateIntent)
					r.Post("/execute", h.Payments.Execute)
					r.Get("/intents", h.Payments.ListIntents)
					r.Get("/intent/{id}", h.Payments.GetIntent)
					r.Post("/intent/{id}/ready", h.Payments.MarkReady)
					r.Post("/intent/{id}/cancel", h.Payments.Cancel)
				})

				r.Route("/wallets", func(r chi.Router) {
					r.Post("/", h.Wallets.OpenWallet)
					r.Get("/{id}", h.Wallets.GetWallet)
					r.Get("/{id}/transactions", h.Wallets.ListTransactions)
					r.Delete("/{id}", h.Wallets.CloseWallet)
				})

				r.Route("/admin/payments", func(r chi.Router) {
					r.Use(authmw.RequireAdmin)
					r.Get("/stuck", h.Admin.ListStuck)
					r.Post("/{id}/reconcile", h.Admin.Reconcile)
					r.Post("/{id}/refund", h.Admin.Refund)
				})
			})
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests and counts them by route pattern.
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))
		})
	}
}
