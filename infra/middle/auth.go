package middle

import (
	"context"
	"net/http"
	"strings"

	"github.com/emreis/sanalpos/infra/config"
	"github.com/emreis/sanalpos/infra/response"
)

type contextKey string

// GatewayUserKey carries the user identity injected by the upstream gateway
const GatewayUserKey contextKey = "gateway_user"

// APIKeyMiddleware gates the merchant API with the configured key. The public
// payment routes are not behind it.
func APIKeyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := config.GetAppConfig().APIKey
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-Api-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key != expected {
				response.Error(w, http.StatusUnauthorized, "invalid api key", nil)
				return
			}

			ctx := r.Context()
			if user := r.Header.Get("X-Gateway-User"); user != "" {
				ctx = context.WithValue(ctx, GatewayUserKey, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetGatewayUser returns the gateway-injected user identity, if any
func GetGatewayUser(ctx context.Context) string {
	if user, ok := ctx.Value(GatewayUserKey).(string); ok {
		return user
	}
	return ""
}

// GetClientIP extracts the client address, preferring forwarded headers
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-Ip"); rip != "" {
		return rip
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}
