package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

type Handlers struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	// Health reports readiness; nil means always healthy
	Health func(r *http.Request) error
}

func NewRouter(cfg RouterConfig, hs Handlers, log *zap.Logger, m *metrics.Metrics) chi.Router {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware(log))
	r.Use(AccessLogMiddleware(log, m))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if cfg.MaxRequestBodySize > 0 {
		r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	}
	r.Use(middleware.Compress(5))
	r.Use(IdentityMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if hs.Health != nil {
			if err := hs.Health(r); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", hs.Cart.GetCart)
			r.Delete("/", hs.Cart.ClearCart)
			r.Post("/items", hs.Cart.AddItem)
			r.Put("/items/{variant_id}", hs.Cart.UpdateQuantity)
			r.Delete("/items/{variant_id}", hs.Cart.RemoveItem)
			r.Post("/merge", hs.Cart.Merge)
		})
		r.Post("/checkout", hs.Checkout.Checkout)
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", hs.Orders.ListOrders)
			r.Get("/{order_id}", hs.Orders.GetOrder)
			r.Patch("/{order_id}/status", hs.Orders.UpdateStatus)
			r.Post("/{order_id}/cancel", hs.Orders.CancelOrder)
		})
	})
	return r
}
