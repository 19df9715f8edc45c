package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/auditlog"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/pricesync"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate/migratetest"
	"github.com/angelmondragon/storefront-backend/pkg/tasks/taskstest"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

type recordingEvicter struct {
	tags []string
}

func (r *recordingEvicter) Evict(_ context.Context, tags ...string) {
	r.tags = append(r.tags, tags...)
}

type jobFixture struct {
	conn  *gorm.DB
	carts *cart.Repository
	now   time.Time
}

func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()
	conn := migratetest.NewSQLite(t)
	return &jobFixture{
		conn:  conn,
		carts: cart.NewRepository(conn),
		now:   time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
}

// confirmedCart creates a cart for a new owner holding product at price and stamps its
// checkout date.
func (f *jobFixture) confirmedCart(t *testing.T, product models.Product, price string, at time.Time) (models.Owner, *models.Cart) {
	t.Helper()
	ctx := context.Background()
	owner := migratetest.Owner(t, f.conn)
	c, err := f.carts.Create(ctx, owner.ID)
	require.NoError(t, err)
	require.NoError(t, f.carts.AddItem(ctx, &models.CartItem{
		CartID:     c.ID,
		ProductID:  product.ID,
		Quantity:   1,
		UnitPrice:  decimal.RequireFromString(price),
		AddedAt:    at,
		ModifiedAt: at,
	}))
	version, err := f.carts.UpdateCheckoutDate(ctx, c.ID, c.Version, &at)
	require.NoError(t, err)
	c.Version = version
	return owner, c
}

func (f *jobFixture) checkoutDate(t *testing.T, owner models.Owner) *time.Time {
	t.Helper()
	stored, err := f.carts.GetByOwner(context.Background(), owner.ID)
	require.NoError(t, err)
	return stored.CheckoutDate
}

func TestCheckoutExpiryJobClearsStaleConfirmations(t *testing.T) {
	f := newJobFixture(t)
	product := migratetest.Product(t, f.conn, "12.00")
	staleOwner, _ := f.confirmedCart(t, product, "12.00", f.now.Add(-8*24*time.Hour))
	freshOwner, _ := f.confirmedCart(t, product, "12.00", f.now.Add(-2*24*time.Hour))

	evicter := &recordingEvicter{}
	clock := func() time.Time { return f.now }
	svc, err := checkout.NewService(checkout.ServiceParams{
		Tx:        db.Wrap(f.conn),
		Carts:     f.carts,
		Products:  catalog.NewRepository(f.conn),
		Audit:     auditlog.New(f.conn),
		Evictions: evicter,
		Logger:    logger.Nop(),
		Now:       clock,
	})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	jobMetrics := metrics.NewCronJobMetrics(reg)
	job, err := NewCheckoutExpiryJob(CheckoutExpiryJobParams{
		Logger:    logger.Nop(),
		DB:        db.Wrap(f.conn),
		Carts:     f.carts,
		Checkout:  svc,
		Evictions: evicter,
		Metrics:   jobMetrics,
		Now:       clock,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, 1.0, itemCount(t, reg, job.Name(), metrics.CronItemScanned))
	require.Equal(t, 1.0, itemCount(t, reg, job.Name(), metrics.CronItemCleared))
	require.Nil(t, f.checkoutDate(t, staleOwner))
	require.NotNil(t, f.checkoutDate(t, freshOwner))
	require.Equal(t, []string{cache.CartTag(staleOwner.ID.String())}, evicter.tags)

	evicter.tags = nil
	require.NoError(t, job.Run(context.Background()))
	require.Empty(t, evicter.tags)
}

type failingInvalidator struct{}

func (failingInvalidator) Invalidate(context.Context, *gorm.DB, uuid.UUID) error {
	return errors.New("write failed")
}

func TestCheckoutExpiryJobReportsEveryFailure(t *testing.T) {
	f := newJobFixture(t)
	product := migratetest.Product(t, f.conn, "3.00")
	f.confirmedCart(t, product, "3.00", f.now.Add(-9*24*time.Hour))
	f.confirmedCart(t, product, "3.00", f.now.Add(-10*24*time.Hour))

	job, err := NewCheckoutExpiryJob(CheckoutExpiryJobParams{
		Logger:    logger.Nop(),
		DB:        db.Wrap(f.conn),
		Carts:     f.carts,
		Checkout:  failingInvalidator{},
		Evictions: &recordingEvicter{},
		Now:       func() time.Time { return f.now },
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
}

func TestPriceDriftJobQueuesClearForDriftedCarts(t *testing.T) {
	f := newJobFixture(t)
	discounted := migratetest.Product(t, f.conn, "20.00")
	steady := migratetest.Product(t, f.conn, "5.00")
	driftOwner, driftCart := f.confirmedCart(t, discounted, "20.00", f.now.Add(-time.Hour))
	f.confirmedCart(t, steady, "5.00", f.now.Add(-time.Hour))
	migratetest.Discount(t, f.conn, discounted.ID, "25", f.now.Add(-time.Minute), f.now.Add(time.Hour))

	queue := &taskstest.Recorder{}
	engine, err := pricesync.NewEngine(catalog.NewRepository(f.conn), queue, logger.Nop(), func() time.Time { return f.now })
	require.NoError(t, err)
	job, err := NewPriceDriftJob(PriceDriftJobParams{Logger: logger.Nop(), Carts: f.carts, Syncer: engine})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	clears := queue.OfType(enums.TaskCartCheckoutClear)
	require.Len(t, clears, 1)
	var payload pricesync.ClearCheckoutPayload
	require.NoError(t, clears[0].Decode(&payload))
	require.Equal(t, driftCart.ID, payload.CartID)
	require.Len(t, queue.OfType(enums.TaskCartItemReprice), 1)
	require.NotNil(t, f.checkoutDate(t, driftOwner), "the sweep only schedules the clear")
}

func TestPriceDriftJobSweepsPastFirstBatch(t *testing.T) {
	f := newJobFixture(t)
	steady := migratetest.Product(t, f.conn, "5.00")
	discounted := migratetest.Product(t, f.conn, "20.00")
	f.confirmedCart(t, steady, "5.00", f.now.Add(-3*time.Hour))
	f.confirmedCart(t, steady, "5.00", f.now.Add(-2*time.Hour))
	_, driftCart := f.confirmedCart(t, discounted, "20.00", f.now.Add(-time.Hour))
	migratetest.Discount(t, f.conn, discounted.ID, "25", f.now.Add(-time.Minute), f.now.Add(time.Hour))

	queue := &taskstest.Recorder{}
	engine, err := pricesync.NewEngine(catalog.NewRepository(f.conn), queue, logger.Nop(), func() time.Time { return f.now })
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	jobMetrics := metrics.NewCronJobMetrics(reg)
	job, err := NewPriceDriftJob(PriceDriftJobParams{
		Logger:    logger.Nop(),
		Carts:     f.carts,
		Syncer:    engine,
		Metrics:   jobMetrics,
		BatchSize: 2,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	clears := queue.OfType(enums.TaskCartCheckoutClear)
	require.Len(t, clears, 1)
	var payload pricesync.ClearCheckoutPayload
	require.NoError(t, clears[0].Decode(&payload))
	require.Equal(t, driftCart.ID, payload.CartID)
	require.Equal(t, 3.0, itemCount(t, reg, job.Name(), metrics.CronItemScanned))
	require.Equal(t, 1.0, itemCount(t, reg, job.Name(), metrics.CronItemDrifted))
}

type countingSyncer struct {
	seen []uuid.UUID
}

func (s *countingSyncer) Sync(_ context.Context, c *models.Cart) (*cart.Projection, error) {
	s.seen = append(s.seen, c.ID)
	return &cart.Projection{}, nil
}

func TestPriceDriftJobVisitsEachCartOnceWhenBatchDividesEvenly(t *testing.T) {
	f := newJobFixture(t)
	product := migratetest.Product(t, f.conn, "5.00")
	for i := 0; i < 4; i++ {
		f.confirmedCart(t, product, "5.00", f.now.Add(-time.Hour))
	}

	syncer := &countingSyncer{}
	job, err := NewPriceDriftJob(PriceDriftJobParams{Logger: logger.Nop(), Carts: f.carts, Syncer: syncer, BatchSize: 2})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, syncer.seen, 4)
	unique := map[uuid.UUID]struct{}{}
	for _, id := range syncer.seen {
		unique[id] = struct{}{}
	}
	require.Len(t, unique, 4)
}

func itemCount(t *testing.T, reg *prometheus.Registry, job, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "cron_job_items_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["job"] == job && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
