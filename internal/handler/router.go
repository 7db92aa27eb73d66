package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/canteen-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса бронирования.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/menu", h.GetMenu)
			r.Post("/menu", h.UpsertMenuItem)
			r.Patch("/menu/{id}/availability", h.SetAvailability)
			r.Delete("/menu/{id}", h.DeleteMenuItem)

			r.Post("/reservations", h.CreateReservation)
			r.Get("/reservations", h.GetReservations)
			r.Patch("/reservations/{id}/status", h.UpdateReservationStatus)

			r.Get("/reports/metrics", h.GetMetrics)

			r.Get("/users/{email}/permissions", h.GetPermissions)
			r.Put("/users/{email}/permissions", h.PutPermissions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
