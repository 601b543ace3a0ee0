package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/goaltracker/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware трекера целей.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.CORS(h.corsOrigin))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Metrics)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/account", h.CreateAccount)
		r.Post("/account/login", h.Login)
		r.Post("/account/logout", h.Logout)
		r.Post("/generate", h.Generate)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/account/{id}", h.GetAccount)
			r.Patch("/account/{id}", h.UpdateAccount)
			r.Delete("/account/{id}", h.DeleteAccount)

			r.Post("/payment", h.Payment)

			r.Post("/tasks", h.CreateTask)
			r.Get("/tasks/user/{userid}", h.GetTasksByUser)
			r.Delete("/tasks/user/{userid}", h.DeleteTasksByUser)
			r.Get("/tasks/{id}", h.GetTask)
			r.Patch("/tasks/{id}", h.UpdateTask)
			r.Delete("/tasks/{id}", h.DeleteTask)

			r.Get("/streak", h.GetStreak)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
