package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/smartcart/internal/middleware"
	"github.com/mmeshcher/smartcart/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware киоск-API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Encoding"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/customer", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/status", h.Status)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/session/{cartCode}", h.StartSession)
			r.Get("/session", h.CurrentSession)

			r.Get("/cart", h.GetCart)
			r.Post("/cart/refresh", h.RefreshCart)
			r.Post("/cart/items", h.AddItem)
			r.Post("/cart/scan", h.Scan)
			r.Put("/cart/items/{barcode}", h.UpdateQuantity)
			r.Delete("/cart/items/{barcode}", h.RemoveItem)
			r.Post("/cart/remove-mode", h.ToggleRemoveMode)

			r.Post("/checkout", h.Checkout)
			r.Post("/checkout/confirm", h.ConfirmCheckout)
		})
	})

	r.Route("/api/products", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/", h.Products)
		r.Get("/{barcode}", h.Product)
	})

	r.Route("/api/display", func(r chi.Router) {
		r.Put("/session", h.SetDisplaySession)
		r.Delete("/session", h.ClearDisplaySession)
		r.Post("/connect/{cartCode}", h.ConnectDisplay)
		r.Get("/qr/{cartCode}", h.DisplayQRCode)

		r.Get("/cart", h.DisplayCart)
		r.Post("/cart/items", h.DisplayAddItem)
		r.Post("/cart/scan", h.DisplayScan)
		r.Delete("/cart/items/{barcode}", h.DisplayRemoveItem)
	})

	r.Route("/api/assistance", func(r chi.Router) {
		r.Post("/", h.CallAssistance)
		r.Delete("/cart/{cartCode}", h.CancelAssistance)
		r.Get("/active/{cartCode}", h.ActiveAssistance)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireRole(model.RoleAdmin, model.RoleManager))

			r.Get("/", h.AssistanceRequests)
			r.Post("/{id}/resolve", h.ResolveAssistance)
			r.Post("/{id}/assign", h.AssignAssistance)
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
