package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Gokkul-M/istri-sub001/internal/service"
)

// ============================================================
// User directory — GET /v1/users/{userId}
// ============================================================

func getUserHandler(directorySvc *service.DirectoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/users/{userId}")
		defer span.End()

		userID := chi.URLParam(r, "userId")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "userId is required")
			return
		}

		user, err := directorySvc.GetUser(ctx, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}
