package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Services struct {
	Carts       CartService
	Orders      OrderService
	Fulfillment FulfillmentService
	Payments    PaymentService
	Products    ProductService
}

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	JWTSecret          string
	ServiceName        string
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

func NewRouter(svc Services, cfg RouterConfig, checks map[string]HealthCheck, log *slog.Logger) http.Handler {
	carts := NewCartHandler(svc.Carts, cfg.RequestTimeout, log)
	orders := NewOrdersHandler(svc.Orders, svc.Fulfillment, cfg.RequestTimeout, log)
	payments := NewPaymentHandler(svc.Payments, cfg.RequestTimeout, log)
	products := NewProductHandler(svc.Products, cfg.RequestTimeout, log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	r.Use(middleware.Compress(5))

	r.Get("/health", healthHandler(checks))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticator([]byte(cfg.JWTSecret)))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", carts.GetCart)
			r.Delete("/", carts.ClearCart)
			r.Post("/items", carts.AddItem)
			r.Put("/items/{product_id}", carts.UpdateQuantity)
			r.Delete("/items/{product_id}", carts.RemoveItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orders.CreateOrder)
			r.Get("/", orders.ListOrders)
			r.Get("/{order_id}", orders.GetOrder)
			r.Get("/{order_id}/history", orders.History)
			r.Put("/{order_id}/status", orders.UpdateStatus)
		})
		r.Get("/seller/orders", orders.ListSellerOrders)

		r.Route("/payments", func(r chi.Router) {
			r.Post("/intents", payments.CreateIntent)
			r.Post("/verify", payments.Verify)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", products.ListProducts)
			r.Post("/", products.SaveProduct)
			r.Get("/{product_id}", products.GetProduct)
			r.Put("/{product_id}/price", products.UpdatePrice)
		})
	})

	return otelhttp.NewHandler(r, cfg.ServiceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				result["status"] = "degraded"
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}
		respondJSON(w, status, result)
	}
}
