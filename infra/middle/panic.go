package middle

import (
	"net/http"
	"runtime/debug"

	"github.com/emreis/sanalpos/infra/logger"
	"github.com/emreis/sanalpos/infra/response"
)

// PanicRecoveryMiddleware converts handler panics into 500 responses
func PanicRecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", nil, logger.LogContext{
						Fields: map[string]any{
							"panic": rec,
							"path":  r.URL.Path,
							"stack": string(debug.Stack()),
						},
					})
					response.Error(w, http.StatusInternalServerError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
