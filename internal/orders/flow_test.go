package orders

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/auditlog"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/owners"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/pricesync"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate/migratetest"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/tasks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stack wires the cart, checkout and order services over one database with the
// background tasks executed inline.
type stack struct {
	*fixture
	carts      cart.Service
	checkout   checkout.Service
	orders     Service
	catalog    *catalog.Invalidator
	dispatcher *tasks.Dispatcher
}

func newStack(t *testing.T) *stack {
	t.Helper()
	f := newFixture(t)
	clock := func() time.Time { return f.now }
	logg := logger.Nop()
	tx := db.Wrap(f.conn)
	products := catalog.NewRepository(f.conn)

	invalidator, err := cache.NewInvalidator(f.queue, f.store, logg)
	require.NoError(t, err)
	engine, err := pricesync.NewEngine(products, f.queue, logg, clock)
	require.NoError(t, err)
	cartSvc, err := cart.NewService(cart.ServiceParams{
		Repo:      f.carts,
		Tx:        tx,
		Owners:    owners.NewRepository(f.conn),
		Catalog:   products,
		Syncer:    engine,
		Cache:     f.store,
		Evictions: invalidator,
		Logger:    logg,
		CacheTTL:  time.Minute,
		Now:       clock,
	})
	require.NoError(t, err)
	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Tx:        tx,
		Carts:     f.carts,
		Products:  products,
		Audit:     auditlog.New(f.conn),
		Evictions: invalidator,
		Logger:    logg,
		Now:       clock,
	})
	require.NoError(t, err)
	orderSvc, err := NewService(ServiceParams{
		Tx:        tx,
		Repo:      f.repo,
		Carts:     f.carts,
		Payments:  payments.NewRepository(f.conn),
		Audit:     auditlog.New(f.conn),
		Numbers:   NewNumberGenerator(nil, logg),
		Cache:     f.store,
		Evictions: invalidator,
		Logger:    logg,
		CacheTTL:  time.Minute,
		Now:       clock,
	})
	require.NoError(t, err)
	productInvalidator, err := catalog.NewInvalidator(invalidator)
	require.NoError(t, err)

	dispatcher, err := tasks.NewDispatcher(logg, nil)
	require.NoError(t, err)
	reprice, err := pricesync.NewRepriceHandler(tx, f.carts, products, invalidator, logg, clock)
	require.NoError(t, err)
	clearCheckout, err := checkout.NewClearHandler(tx, f.carts, invalidator, logg)
	require.NoError(t, err)
	evict, err := cache.NewEvictHandler(f.store)
	require.NoError(t, err)
	require.NoError(t, dispatcher.Register(enums.TaskCartItemReprice, reprice))
	require.NoError(t, dispatcher.Register(enums.TaskCartCheckoutClear, clearCheckout))
	require.NoError(t, dispatcher.Register(enums.TaskCacheEvict, evict))

	return &stack{
		fixture:    f,
		carts:      cartSvc,
		checkout:   checkoutSvc,
		orders:     orderSvc,
		catalog:    productInvalidator,
		dispatcher: dispatcher,
	}
}

// runTasks drains the queue until no handler enqueues follow-up work.
func (s *stack) runTasks(t *testing.T) {
	t.Helper()
	for i := 0; i < 5 && len(s.queue.Tasks()) > 0; i++ {
		require.NoError(t, s.queue.Drain(context.Background(), tasks.HandlerFunc(s.dispatcher.Dispatch)))
	}
	require.Empty(t, s.queue.Tasks())
}

func TestOwnerCartToOrderScenario(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	product := migratetest.Product(t, s.conn, "8.40")
	variant := migratetest.Variant(t, s.conn, product.ID, 10)

	projection, err := s.carts.AddItem(ctx, s.owner.ID, cart.AddItemInput{ProductID: product.ID, VariantID: &variant.ID, Quantity: 2})
	require.NoError(t, err)
	require.Len(t, projection.Items, 1)
	unitPrice := projection.Items[0].SnapshotPrice
	assert.Equal(t, "8.40", unitPrice.StringFixed(2))

	confirmation, err := s.checkout.Confirm(ctx, s.owner.ID)
	require.NoError(t, err)
	assert.True(t, confirmation.CheckoutDate.Equal(s.now))

	s.now = s.now.Add(3 * 24 * time.Hour)
	order, err := s.orders.CreateOrder(ctx, s.owner.ID, s.input("5", "10", "0"))
	require.NoError(t, err)
	assert.True(t, order.Subtotal.Equal(unitPrice.Mul(decimal.NewFromInt(2))))
	assert.Equal(t, "31.80", order.Total.StringFixed(2))
	require.Len(t, order.Items, 1)
	assert.Equal(t, variant.ID, *order.Items[0].VariantID)
	require.NotNil(t, order.Payment)
	assert.Equal(t, enums.PaymentStatusPending, order.Payment.Status)

	s.runTasks(t)
	after, err := s.carts.GetCart(ctx, s.owner.ID)
	require.NoError(t, err)
	assert.Empty(t, after.Items)
	assert.Nil(t, after.CheckoutDate)

	listed, err := s.orders.ListOrders(ctx, s.owner.ID, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listed.Items, 1)
	assert.Equal(t, order.ID, listed.Items[0].ID)
}

func TestPriceDriftRevokesCheckout(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	product := migratetest.Product(t, s.conn, "50.00")

	_, err := s.carts.AddItem(ctx, s.owner.ID, cart.AddItemInput{ProductID: product.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = s.checkout.Confirm(ctx, s.owner.ID)
	require.NoError(t, err)

	s.now = s.now.Add(time.Hour)
	migratetest.Discount(t, s.conn, product.ID, "10", s.now.Add(-time.Minute), s.now.Add(24*time.Hour))
	s.catalog.ProductChanged(ctx, product.ID)
	s.runTasks(t)

	projection, err := s.carts.GetCart(ctx, s.owner.ID)
	require.NoError(t, err)
	assert.True(t, projection.Drifted)
	assert.Equal(t, "90.00", projection.Total.StringFixed(2))
	assert.Equal(t, "100.00", projection.SnapshotTotal.StringFixed(2))
	require.Len(t, s.queue.OfType(enums.TaskCartCheckoutClear), 1)

	s.runTasks(t)
	_, err = s.orders.CreateOrder(ctx, s.owner.ID, s.input("0", "0", "0"))
	requireCode(t, err, pkgerrors.CodeCheckoutRequired)

	refreshed, err := s.carts.GetCart(ctx, s.owner.ID)
	require.NoError(t, err)
	assert.False(t, refreshed.Drifted)
	assert.Nil(t, refreshed.CheckoutDate)
	assert.Equal(t, "90.00", refreshed.SnapshotTotal.StringFixed(2))

	_, err = s.checkout.Confirm(ctx, s.owner.ID)
	require.NoError(t, err)
	order, err := s.orders.CreateOrder(ctx, s.owner.ID, s.input("0", "0", "0"))
	require.NoError(t, err)
	assert.Equal(t, "90.00", order.Total.StringFixed(2))
}
