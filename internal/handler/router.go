// Package handler exposes the HTTP surface of the Istri backend: the
// auth endpoints, the user directory and the admin migration console.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/Gokkul-M/istri-sub001/internal/domain"
	"github.com/Gokkul-M/istri-sub001/internal/infra/observability"
	"github.com/Gokkul-M/istri-sub001/internal/service"
)

var tracer = otel.Tracer("istri/handler")

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(
	migrationSvc *service.MigrationService,
	directorySvc *service.DirectoryService,
	authSvc *service.AuthService,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.PropagationMiddleware)
	r.Use(observability.AccessLogMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(directorySvc))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// Authentication
		// =============================================
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authLoginHandler(authSvc, logger))
			r.Post("/refresh", authRefreshHandler(authSvc, logger))

			r.Group(func(r chi.Router) {
				r.Use(JWTAuthMiddleware(authSvc, logger))
				r.Post("/logout", authLogoutHandler(authSvc, logger))
			})
		})

		// =============================================
		// User directory (protected)
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(authSvc, logger))
			r.Get("/users/{userId}", getUserHandler(directorySvc, logger))
		})

		// =============================================
		// Admin migration console (admin only)
		// =============================================
		r.Route("/admin", func(r chi.Router) {
			r.Use(JWTAuthMiddleware(authSvc, logger))
			r.Use(RequireAdmin(logger))

			r.Get("/migration/status", migrationStatusHandler(migrationSvc, logger))
			r.Post("/migration/run", migrationRunHandler(migrationSvc, logger))
			r.Get("/migration/mappings", migrationMappingsHandler(migrationSvc, logger))
			r.Get("/migration/metrics", migrationMetricsHandler(metrics))
			r.Get("/overview", overviewHandler(migrationSvc, logger))
		})
	})

	return r
}

// ============================================================
// Operational handlers
// ============================================================

func healthzHandler(directorySvc *service.DirectoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		// A lookup for a non-existent user exercises the full storage
		// path: not-found means storage answered, anything else means it
		// did not.
		start := time.Now()
		_, err := directorySvc.GetUser(r.Context(), "health-check")
		latency := time.Since(start).Milliseconds()

		storageStatus := "healthy"
		overall := "healthy"
		var notFound *domain.ErrNotFound
		if err != nil && !errors.As(err, &notFound) {
			storageStatus = "degraded"
			overall = "degraded"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status": overall,
			"services": []map[string]any{
				{"name": "istri-api", "status": "healthy", "latency_ms": 0, "last_checked": now},
				{"name": "supabase", "status": storageStatus, "latency_ms": latency, "last_checked": now},
			},
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
