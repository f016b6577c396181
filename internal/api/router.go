// router.go -- Route table.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all routes and middleware. Admin routes are mounted only
// when an admin token is configured.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Admin pipeline runs can outlast the request timeout below.
	if h.AdminToken != "" {
		r.Route("/admin/pipeline", func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Post("/run", h.RunPipeline)
			r.Get("/status", h.PipelineStatus)
		})
	}

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", h.CheckHealth)
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		// Session required routes
		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Get("/session", h.GetSession)
			r.Post("/submit", h.Submit)
			r.Post("/vote", h.Vote)
			r.Get("/history", h.ListHistory)
		})
	})

	return r
}
