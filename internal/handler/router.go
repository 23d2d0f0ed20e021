package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"
	"github.com/boddenberg/habit-hero-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(ledger *service.Ledger, auth *service.ParentAuth, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(ledger, logger))
	r.Get("/readyz", readyzHandler(ledger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Child screens (public)
		// =============================================
		r.Get("/state", stateHandler(ledger))
		r.Get("/habits/today", habitsTodayHandler(ledger))
		r.Get("/completed", completedHandler(ledger))
		r.Post("/tasks", requestTaskHandler(ledger, logger))
		r.Post("/rewards/{id}/redeem", redeemHandler(ledger, logger))
		r.Get("/transactions", listTransactionsHandler(ledger))

		// =============================================
		// 2. Parent session
		// =============================================
		r.Post("/parent/login", parentLoginHandler(auth, logger))

		// =============================================
		// 3. Parent screens (Bearer token)
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(ParentAuthMiddleware(auth, logger))

			r.Post("/tasks/{id}/approve", approveTaskHandler(ledger, logger))
			r.Post("/tasks/{id}/reject", rejectTaskHandler(ledger, logger))
			r.Post("/deductions/{id}/apply", applyDeductionHandler(ledger, logger))
			r.Post("/points/adjust", adjustPointsHandler(ledger, logger))

			r.Post("/habits", addHabitHandler(ledger, logger))
			r.Patch("/habits/{id}", updateHabitHandler(ledger, logger))
			r.Delete("/habits/{id}", removeHabitHandler(ledger, logger))
			r.Post("/rewards", addRewardHandler(ledger, logger))
			r.Patch("/rewards/{id}", updateRewardHandler(ledger, logger))
			r.Delete("/rewards/{id}", removeRewardHandler(ledger, logger))
			r.Post("/deductions", addDeductionHandler(ledger, logger))
			r.Patch("/deductions/{id}", updateDeductionHandler(ledger, logger))
			r.Delete("/deductions/{id}", removeDeductionHandler(ledger, logger))
			r.Put("/profile", updateProfileHandler(ledger, logger))

			r.Get("/export", exportHandler(ledger))
			r.Post("/import", importHandler(ledger, logger))
			r.Post("/transactions/bulk", bulkInsertHandler(ledger, logger))
			r.Post("/transactions/synthetic", syntheticHandler(ledger, logger))
			r.Post("/reset", resetHandler(ledger, logger))

			r.Get("/metrics/ledger", ledgerMetricsHandler(metrics))
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: observability.ServiceName, Status: "healthy", LastChecked: now},
		}

		start := time.Now()
		err := ledger.Ping(r.Context())
		status := "healthy"
		if err != nil {
			status = "unhealthy"
			logger.Warn("healthz: store ping failed", zap.Error(err))
		}
		services = append(services, domain.ServiceHealth{
			Name: "sqlite", Status: status, LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
		})

		code := http.StatusOK
		if status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, domain.HealthStatus{Status: status, Services: services})
	}
}

func readyzHandler(ledger *service.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ledger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func ledgerMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetLedgerSnapshot())
	}
}
