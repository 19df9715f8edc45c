package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/auditlog"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/owners"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/pricesync"
	"github.com/angelmondragon/storefront-backend/pkg/alerts"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/pubsub"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	"github.com/angelmondragon/storefront-backend/pkg/tasks"
)

// Params carries the infrastructure every binary shares. Redis and PubSub may be nil
// when the memory cache and the local task backend are configured.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          *db.Client
	Redis       *redis.Client
	PubSub      *pubsub.Client
	TaskMetrics *metrics.TaskMetrics
	Now         func() time.Time
}

// Domain is the wired cart, checkout and order stack plus the task plumbing behind it.
type Domain struct {
	Store       cache.Store
	Queue       tasks.Queue
	LocalQueue  *tasks.LocalQueue
	Dispatcher  *tasks.Dispatcher
	Invalidator *cache.Invalidator

	Carts    *cart.Repository
	Products *catalog.Repository
	Engine   *pricesync.Engine
	Catalog  *catalog.Invalidator

	CartService     cart.Service
	CheckoutService checkout.Service
	OrderService    orders.Service
}

// New builds the domain graph. The dispatcher is created first so the local queue can
// feed it, and handlers are registered once the services they depend on exist.
func New(p Params) (*Domain, error) {
	if p.Config == nil {
		return nil, errors.New("config is required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if p.DB == nil {
		return nil, errors.New("database client is required")
	}
	if p.Now == nil {
		p.Now = db.UTCNow
	}
	cfg, logg := p.Config, p.Logger

	store, err := newStore(cfg.Cache, p.Redis)
	if err != nil {
		return nil, err
	}

	dispatcher, err := tasks.NewDispatcher(logg, p.TaskMetrics)
	if err != nil {
		return nil, fmt.Errorf("task dispatcher: %w", err)
	}
	d := &Domain{Store: store, Dispatcher: dispatcher}
	if err := d.buildQueue(cfg.Tasks, p); err != nil {
		return nil, err
	}

	d.Invalidator, err = cache.NewInvalidator(d.Queue, store, logg)
	if err != nil {
		return nil, fmt.Errorf("cache invalidator: %w", err)
	}
	d.Catalog, err = catalog.NewInvalidator(d.Invalidator)
	if err != nil {
		return nil, fmt.Errorf("catalog invalidator: %w", err)
	}

	conn := p.DB.DB()
	d.Carts = cart.NewRepository(conn)
	d.Products = catalog.NewRepository(conn)
	audit := auditlog.New(conn)

	d.Engine, err = pricesync.NewEngine(d.Products, d.Queue, logg, p.Now)
	if err != nil {
		return nil, fmt.Errorf("price sync engine: %w", err)
	}

	d.CartService, err = cart.NewService(cart.ServiceParams{
		Repo:        d.Carts,
		Tx:          p.DB,
		Owners:      owners.NewRepository(conn),
		Catalog:     d.Products,
		Syncer:      d.Engine,
		Cache:       store,
		Evictions:   d.Invalidator,
		Logger:      logg,
		CacheTTL:    cfg.Cache.CartTTL,
		MaxQuantity: cfg.Checkout.MaxItemQuantity,
		Now:         p.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}

	d.CheckoutService, err = checkout.NewService(checkout.ServiceParams{
		Tx:        p.DB,
		Carts:     d.Carts,
		Products:  d.Products,
		Audit:     audit,
		Evictions: d.Invalidator,
		Logger:    logg,
		Window:    cfg.Checkout.Window,
		Now:       p.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	var counter orders.Counter
	if p.Redis != nil {
		counter = p.Redis
	}
	d.OrderService, err = orders.NewService(orders.ServiceParams{
		Tx:          p.DB,
		Repo:        orders.NewRepository(conn),
		Carts:       d.Carts,
		Payments:    payments.NewRepository(conn),
		Audit:       audit,
		Numbers:     orders.NewNumberGenerator(counter, logg),
		Cache:       store,
		Evictions:   d.Invalidator,
		Logger:      logg,
		Window:      cfg.Checkout.Window,
		StrictAudit: cfg.Checkout.StrictAuditLog,
		CacheTTL:    cfg.Cache.OrderTTL,
		Now:         p.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	if err := d.registerHandlers(p); err != nil {
		return nil, err
	}
	return d, nil
}

func newStore(cfg config.CacheConfig, client *redis.Client) (cache.Store, error) {
	if cfg.UseMemory() {
		return cache.NewMemoryStore(), nil
	}
	if client == nil {
		return nil, errors.New("redis client is required for the redis cache backend")
	}
	store, err := cache.NewRedisStore(client)
	if err != nil {
		return nil, fmt.Errorf("redis cache store: %w", err)
	}
	return store, nil
}

func (d *Domain) buildQueue(cfg config.TasksConfig, p Params) error {
	if cfg.UsePubSub() {
		if p.PubSub == nil {
			return errors.New("pubsub client is required for the pubsub task backend")
		}
		queue, err := tasks.NewPubSubQueue(p.PubSub.TasksPublisher(), p.TaskMetrics)
		if err != nil {
			return fmt.Errorf("pubsub task queue: %w", err)
		}
		d.Queue = queue
		return nil
	}
	local, err := tasks.NewLocalQueue(d.Dispatcher, cfg.Workers, cfg.BufferSize, p.Logger, p.TaskMetrics)
	if err != nil {
		return fmt.Errorf("local task queue: %w", err)
	}
	d.LocalQueue = local
	d.Queue = local
	return nil
}

func (d *Domain) registerHandlers(p Params) error {
	reprice, err := pricesync.NewRepriceHandler(p.DB, d.Carts, d.Products, d.Invalidator, p.Logger, p.Now)
	if err != nil {
		return fmt.Errorf("reprice handler: %w", err)
	}
	clearCheckout, err := checkout.NewClearHandler(p.DB, d.Carts, d.Invalidator, p.Logger)
	if err != nil {
		return fmt.Errorf("checkout clear handler: %w", err)
	}
	evict, err := cache.NewEvictHandler(d.Store)
	if err != nil {
		return fmt.Errorf("cache evict handler: %w", err)
	}

	handlers := map[enums.TaskType]tasks.Handler{
		enums.TaskCartItemReprice:   reprice,
		enums.TaskCartCheckoutClear: clearCheckout,
		enums.TaskCacheEvict:        evict,
	}
	for taskType, handler := range handlers {
		if err := d.Dispatcher.Register(taskType, handler); err != nil {
			return fmt.Errorf("register %s: %w", taskType, err)
		}
	}
	return nil
}

// Reporter publishes alerts to Pub/Sub when an alerts topic is configured and logs them otherwise.
func Reporter(cfg *config.Config, client *pubsub.Client, service string, logg *logger.Logger) alerts.Reporter {
	if client != nil && cfg.PubSub.AlertsTopic != "" {
		reporter, err := alerts.NewPubSubReporter(client.AlertsPublisher(), service, logg)
		if err == nil {
			return reporter
		}
		logg.Error(logg.WithField(context.Background(), "topic", cfg.PubSub.AlertsTopic), "alerts publisher unavailable, falling back to logs", err)
	}
	return alerts.NewLogReporter(logg)
}
