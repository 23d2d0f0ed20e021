package handler

import (
	"net/http"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Parent session
// ============================================================

func parentLoginHandler(auth *service.ParentAuth, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/parent/login")
		defer span.End()

		var req domain.ParentLoginRequest
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		session, err := auth.Login(ctx, req.Pin)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}
