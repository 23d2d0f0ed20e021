package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/boddenberg/habit-hero-go/internal/service"
	"go.uber.org/zap"
)

type contextKey string

const parentSessionKey contextKey = "parentSession"

// ParentAuthMiddleware validates Bearer parent tokens and marks the request as a
// parent session.
func ParentAuthMiddleware(auth *service.ParentAuth, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing parent token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "parent session required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := auth.ValidateToken(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired parent token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), parentSessionKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParentSubject returns the subject of the validated parent session carried by
// ctx, if any.
func ParentSubject(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(parentSessionKey).(string)
	return sub, ok
}
