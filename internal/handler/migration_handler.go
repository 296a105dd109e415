package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Gokkul-M/istri-sub001/internal/infra/observability"
	"github.com/Gokkul-M/istri-sub001/internal/service"
)

// ============================================================
// Migration status — GET /v1/admin/migration/status
// ============================================================

func migrationStatusHandler(migrationSvc *service.MigrationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/migration/status")
		defer span.End()

		status, err := migrationSvc.Inspect(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// ============================================================
// Migration run — POST /v1/admin/migration/run
// ============================================================

func migrationRunHandler(migrationSvc *service.MigrationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/migration/run")
		defer span.End()

		caller := service.Caller{
			UserID: UserIDFromContext(ctx),
			Role:   RoleFromContext(ctx),
		}

		result, err := migrationSvc.Migrate(ctx, caller)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		// Partial failure is still a 200: the result body carries the
		// per-user errors and the caller decides whether to re-run.
		writeJSON(w, http.StatusOK, result)
	}
}

// ============================================================
// Migration mappings — GET /v1/admin/migration/mappings
// ============================================================

func migrationMappingsHandler(migrationSvc *service.MigrationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/migration/mappings")
		defer span.End()

		mappings, err := migrationSvc.ListMappings(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"mappings": mappings,
			"count":    len(mappings),
		})
	}
}

// ============================================================
// Migration metrics snapshot — GET /v1/admin/migration/metrics
// ============================================================

func migrationMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetMigrationSnapshot())
	}
}

// ============================================================
// Admin overview — GET /v1/admin/overview
// ============================================================

func overviewHandler(migrationSvc *service.MigrationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/overview")
		defer span.End()

		overview, err := migrationSvc.Overview(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, overview)
	}
}
