package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/toolsync/internal/server/handlers"
)

// AuthMiddleware создает middleware для проверки JWT токена устройства.
// user_id из токена кладется в контекст; handlers сверяют его с user_id запроса.
func AuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := LoggerFromContext(r.Context(), logger)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing Authorization header", "path", r.URL.Path)
				writeMessage(w, http.StatusUnauthorized, "unauthorized: missing token")
				return
			}

			// Ожидаем формат: "Bearer <token>"
			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
				// сам заголовок не логируем, в нем может быть токен
				log.Warn("Invalid Authorization header format")
				writeMessage(w, http.StatusUnauthorized, "unauthorized: invalid token format")
				return
			}

			claims, err := handlers.ValidateAccessToken(jwtConfig, strings.TrimSpace(tokenString))
			if err != nil {
				log.Warn("Invalid access token", "error", err)
				writeMessage(w, http.StatusUnauthorized, "unauthorized: invalid token")
				return
			}

			log.Debug("Device authenticated", "user_id", claims.UserID, "device_id", claims.DeviceID)

			next.ServeHTTP(w, r.WithContext(handlers.WithUserID(r.Context(), claims.UserID)))
		})
	}
}
