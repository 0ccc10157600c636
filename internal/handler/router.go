package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/baganov/pizzanat-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})

		r.Post("/delivery/calculate", h.CalculateDelivery)
		r.Post("/payments/webhook", h.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Optional)

			r.Post("/orders", h.CreateOrder)
			r.Post("/orders/{id}/payment", h.CreatePayment)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Required)

			r.Get("/orders", h.GetOrders)
			r.Get("/orders/{id}", h.GetOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.Admin)

			r.Patch("/orders/{id}/status", h.UpdateOrderStatus)
			r.Post("/payments/{id}/poll", h.ForcePollPayment)
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
