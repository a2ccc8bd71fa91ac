package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	Logger             *slog.Logger
}

type Handlers struct {
	Cart      *CartHandler
	Checkout  *CheckoutHandler
	Orders    *OrdersHandler
	Products  *ProductHandler
	Customers *CustomerHandler
}

// NewRouter mounts every route under /api/v1 plus /health. Products and
// Customers may be nil when those components are not configured.
func NewRouter(h Handlers, cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(EchoRequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(middleware.Compress(5))
	if cfg.MaxRequestBodySize > 0 {
		r.Use(MaxBodySize(cfg.MaxRequestBodySize))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/customers/{customerID}", func(r chi.Router) {
			if h.Customers != nil {
				r.Get("/", h.Customers.GetCustomer)
			}
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Cart.GetCart)
				r.Delete("/", h.Cart.ClearCart)
				r.Post("/abandon", h.Cart.AbandonCart)
				r.Post("/items", h.Cart.AddItem)
				r.Put("/items/{productID}", h.Cart.UpdateQuantity)
				r.Delete("/items/{productID}", h.Cart.RemoveItem)
			})
			r.Post("/checkout", h.Checkout.Checkout)
			r.Get("/orders", h.Orders.ListOrders)
		})
		if h.Customers != nil {
			r.Post("/customers", h.Customers.Register)
			r.Get("/customers/by-email/{email}", h.Customers.GetCustomerByEmail)
			r.Get("/customers/by-cpf/{cpf}", h.Customers.GetCustomerByCPF)
		}

		r.Route("/orders", func(r chi.Router) {
			r.Get("/by-number/{orderNumber}", h.Orders.GetOrderByNumber)
			r.Get("/{orderID}", h.Orders.GetOrder)
			r.Post("/{orderID}/status", h.Orders.AdvanceStatus)
		})

		if h.Products != nil {
			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.Products.List)
				r.Get("/{productID}", h.Products.Get)
			})
		}
	})

	return otelhttp.NewHandler(r, "storefront.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
