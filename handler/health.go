package handler

import (
	"net/http"
	"time"

	"github.com/emreis/sanalpos/infra/response"
)

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "Service is healthy", map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}
