package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Params wires the router. DB and Redis feed the readiness probe; Idempotency may be
// nil when Redis is not configured, which disables key replay.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency middleware.IdempotencyStore
	Limiter     *middleware.OwnerLimiter
	Metrics     http.Handler
	Cart        cart.Service
	Checkout    checkout.Service
	Orders      orders.Service
	Catalog     controllers.ProductNotifier
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)
	if len(cfg.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": p.Redis,
		}))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	var idempotent func(http.Handler) http.Handler = func(next http.Handler) http.Handler { return next }
	if p.Idempotency != nil {
		idempotent = middleware.Idempotency(p.Idempotency, logg)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(p.Limiter, logg))

		r.Get("/cart", controllers.CartGet(p.Cart, logg))
		r.Delete("/cart", controllers.CartClear(p.Cart, logg))
		r.Get("/cart/count", controllers.CartCount(p.Cart, logg))
		r.Post("/cart/items", controllers.CartAddItem(p.Cart, logg))
		r.Patch("/cart/items/{itemId}", controllers.CartUpdateItem(p.Cart, logg))
		r.Delete("/cart/items/{itemId}", controllers.CartRemoveItem(p.Cart, logg))
		r.With(idempotent).Post("/cart/checkout", controllers.CheckoutConfirm(p.Checkout, logg))

		r.With(idempotent).Post("/orders", controllers.OrderCreate(p.Orders, logg))
		r.Get("/orders", controllers.OrderList(p.Orders, logg))
		r.Get("/orders/{orderId}", controllers.OrderDetail(p.Orders, logg))
		r.With(idempotent).Post("/orders/{orderId}/cancel", controllers.OrderCancel(p.Orders, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
			r.With(idempotent).Post("/admin/orders/{orderId}/status", controllers.AdminOrderStatus(p.Orders, logg))
			if p.Catalog != nil {
				r.Post("/admin/products/{productId}/changed", controllers.AdminProductChanged(p.Catalog, logg))
			}
		})
	})

	return r
}
