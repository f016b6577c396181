// health_handler.go -- Health check handler for GET /health.
package api

import (
	"net/http"
)

type healthResponse struct {
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
	Model    string `json:"model"`
}

// CheckHealth handles GET /health. Pings Postgres and Redis and reports
// whether a model is loaded. 200 if all are up, 503 otherwise.
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Postgres: "ok", Redis: "ok", Model: "ok"}

	ctx, cancel := h.dbContext(r.Context())
	defer cancel()
	if err := h.Postgres.CheckHealth(ctx); err != nil {
		logError(r, "postgres health check failed", "error", err)
		resp.Postgres = "error"
	}
	if err := h.Redis.CheckHealth(ctx); err != nil {
		logError(r, "redis health check failed", "error", err)
		resp.Redis = "error"
	}
	if !h.Model.Loaded() {
		resp.Model = "not_loaded"
	}

	status := http.StatusOK
	if resp.Postgres != "ok" || resp.Redis != "ok" || resp.Model != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
