package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/auditlog"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate/migratetest"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/tasks/taskstest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type brokenRecorder struct{}

func (brokenRecorder) RecordOperation(context.Context, *gorm.DB, auditlog.Entry) error {
	return errors.New("audit store unavailable")
}

// savepointDroppingRecorder releases the audit savepoint before failing so the failed
// write cannot be rolled back in isolation.
type savepointDroppingRecorder struct{}

func (savepointDroppingRecorder) RecordOperation(_ context.Context, tx *gorm.DB, _ auditlog.Entry) error {
	if err := tx.Exec("RELEASE SAVEPOINT audit_log").Error; err != nil {
		return err
	}
	return errors.New("audit insert failed")
}

// scriptedNumbers replays values and repeats the last one.
type scriptedNumbers struct {
	values []string
	calls  int
}

func (s *scriptedNumbers) Next(context.Context, time.Time) string {
	value := s.values[min(s.calls, len(s.values)-1)]
	s.calls++
	return value
}

type fixture struct {
	conn     *gorm.DB
	carts    *cart.Repository
	repo     Repository
	store    *cache.MemoryStore
	queue    *taskstest.Recorder
	owner    models.Owner
	method   models.PaymentMethod
	provider models.PaymentProvider
	now      time.Time
}

type fixtureOption func(*ServiceParams)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := migratetest.NewSQLite(t)
	return &fixture{
		conn:     conn,
		carts:    cart.NewRepository(conn),
		repo:     NewRepository(conn),
		store:    cache.NewMemoryStore(),
		queue:    &taskstest.Recorder{},
		owner:    migratetest.Owner(t, conn),
		method:   migratetest.PaymentMethod(t, conn),
		provider: migratetest.PaymentProvider(t, conn, true),
		now:      time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) service(t *testing.T, opts ...fixtureOption) Service {
	t.Helper()
	invalidator, err := cache.NewInvalidator(f.queue, f.store, logger.Nop())
	require.NoError(t, err)
	params := ServiceParams{
		Tx:        db.Wrap(f.conn),
		Repo:      f.repo,
		Carts:     f.carts,
		Payments:  payments.NewRepository(f.conn),
		Audit:     auditlog.New(f.conn),
		Numbers:   NewNumberGenerator(nil, logger.Nop()),
		Cache:     f.store,
		Evictions: invalidator,
		Logger:    logger.Nop(),
		CacheTTL:  time.Minute,
		Now:       func() time.Time { return f.now },
	}
	for _, opt := range opts {
		opt(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return svc
}

// checkedOutCart adds a line to the owner's cart holding qty units of a product at snapshot price,
// confirmed at checkoutAt.
func (f *fixture) checkedOutCart(t *testing.T, price string, qty int, checkoutAt *time.Time) (*models.Cart, models.Product) {
	t.Helper()
	ctx := context.Background()
	product := migratetest.Product(t, f.conn, price)
	c, err := f.carts.GetByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	if c == nil {
		c, err = f.carts.Create(ctx, f.owner.ID)
		require.NoError(t, err)
	}
	require.NoError(t, f.carts.AddItem(ctx, &models.CartItem{
		CartID:     c.ID,
		ProductID:  product.ID,
		Quantity:   qty,
		UnitPrice:  decimal.RequireFromString(price),
		AddedAt:    f.now,
		ModifiedAt: f.now,
	}))
	if checkoutAt != nil {
		_, err = f.carts.UpdateCheckoutDate(ctx, c.ID, c.Version, checkoutAt)
		require.NoError(t, err)
	}
	loaded, err := f.carts.GetByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	return loaded, product
}

func (f *fixture) input(tax, shipping, discount string) CreateOrderInput {
	return CreateOrderInput{
		PaymentMethodID:   f.method.ID,
		PaymentProviderID: f.provider.ID,
		Tax:               decimal.RequireFromString(tax),
		Shipping:          decimal.RequireFromString(shipping),
		Discount:          decimal.RequireFromString(discount),
	}
}

func (f *fixture) ago(d time.Duration) *time.Time {
	t := f.now.Add(-d)
	return &t
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code(), typed.Message())
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestCreateOrderConvertsCartAtSnapshotPrices(t *testing.T) {
	f := newFixture(t)
	c, product := f.checkedOutCart(t, "12.50", 2, f.ago(time.Hour))
	ctx := context.Background()

	view, err := f.service(t).CreateOrder(ctx, f.owner.ID, f.input("5", "10", "2.5"))
	require.NoError(t, err)

	assert.Regexp(t, `^ORD-20260810-\d{6}$`, view.OrderNumber)
	assert.Equal(t, enums.OrderStatusPending, view.Status)
	assert.Equal(t, "25.00", view.Subtotal.StringFixed(2))
	assert.Equal(t, "37.50", view.Total.StringFixed(2))
	require.Len(t, view.Items, 1)
	assert.Equal(t, product.ID, view.Items[0].ProductID)
	assert.Equal(t, 1, view.Items[0].Position)
	assert.Equal(t, "25.00", view.Items[0].TotalPrice.StringFixed(2))
	require.NotNil(t, view.Payment)
	assert.Equal(t, enums.PaymentStatusPending, view.Payment.Status)
	assert.True(t, view.Payment.Amount.Equal(view.Total))

	stored, err := f.repo.FindByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, stored.CartID)
	require.Len(t, stored.Items, 1)
	require.NotNil(t, stored.Payment)

	after, err := f.carts.GetByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Empty(t, after.Items)
	assert.Nil(t, after.CheckoutDate)
	assert.Greater(t, after.Version, c.Version)

	var logs []models.OperationLog
	require.NoError(t, f.conn.Where("subject_id = ?", view.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, enums.OperationOrderCreated, logs[0].Kind)

	evictions := f.queue.OfType(enums.TaskCacheEvict)
	require.Len(t, evictions, 1)
	var payload cache.EvictPayload
	require.NoError(t, evictions[0].Decode(&payload))
	assert.ElementsMatch(t, []string{cache.CartTag(f.owner.ID.String()), cache.OrdersTag(f.owner.ID.String())}, payload.Tags)
}

func TestCreateOrderPreconditionsInOrder(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, f.owner.ID, f.input("0", "0", "0"))
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = f.carts.Create(ctx, f.owner.ID)
	require.NoError(t, err)
	_, err = svc.CreateOrder(ctx, f.owner.ID, f.input("0", "0", "0"))
	requireCode(t, err, pkgerrors.CodeInvalidState)

	f.checkedOutCart(t, "3.00", 1, nil)
	_, err = svc.CreateOrder(ctx, f.owner.ID, f.input("0", "0", "0"))
	requireCode(t, err, pkgerrors.CodeCheckoutRequired)

	c, err := f.carts.GetByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	_, err = f.carts.UpdateCheckoutDate(ctx, c.ID, c.Version, f.ago(time.Minute))
	require.NoError(t, err)

	missingMethod := f.input("0", "0", "0")
	missingMethod.PaymentMethodID = uuid.New()
	missingMethod.PaymentProviderID = uuid.New()
	_, err = svc.CreateOrder(ctx, f.owner.ID, missingMethod)
	requireCode(t, err, pkgerrors.CodeNotFound)
	assert.Contains(t, pkgerrors.As(err).Message(), "payment method")

	missingProvider := f.input("0", "0", "0")
	missingProvider.PaymentProviderID = uuid.New()
	_, err = svc.CreateOrder(ctx, f.owner.ID, missingProvider)
	requireCode(t, err, pkgerrors.CodeNotFound)
	assert.Contains(t, pkgerrors.As(err).Message(), "payment provider")

	inactive := f.input("0", "0", "0")
	inactive.PaymentProviderID = migratetest.PaymentProvider(t, f.conn, false).ID
	_, err = svc.CreateOrder(ctx, f.owner.ID, inactive)
	requireCode(t, err, pkgerrors.CodeInvalidState)

	_, err = svc.CreateOrder(ctx, f.owner.ID, f.input("-1", "0", "0"))
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = svc.CreateOrder(ctx, f.owner.ID, f.input("0", "0", "50"))
	requireCode(t, err, pkgerrors.CodeValidation)

	var count int64
	require.NoError(t, f.conn.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateOrderCheckoutWindow(t *testing.T) {
	cases := []struct {
		name    string
		age     time.Duration
		wantErr bool
	}{
		{name: "six days old", age: 6 * 24 * time.Hour},
		{name: "exactly seven days old", age: 7 * 24 * time.Hour},
		{name: "eight days old", age: 8 * 24 * time.Hour, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.checkedOutCart(t, "10.00", 1, f.ago(tc.age))
			_, err := f.service(t).CreateOrder(context.Background(), f.owner.ID, f.input("0", "0", "0"))
			if tc.wantErr {
				requireCode(t, err, pkgerrors.CodeCheckoutRequired)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCreateOrderSnapshotSurvivesCatalogChanges(t *testing.T) {
	f := newFixture(t)
	_, product := f.checkedOutCart(t, "20.00", 3, f.ago(time.Hour))
	ctx := context.Background()
	svc := f.service(t)

	view, err := svc.CreateOrder(ctx, f.owner.ID, f.input("0", "0", "0"))
	require.NoError(t, err)

	migratetest.Discount(t, f.conn, product.ID, "50", f.now.Add(-time.Hour), f.now.Add(time.Hour))
	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", product.ID).
		Update("price", decimal.RequireFromString("99.00")).Error)

	reloaded, err := svc.GetOrder(ctx, f.owner.ID, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "60.00", reloaded.Total.StringFixed(2))
	assert.Equal(t, "20.00", reloaded.Items[0].UnitPrice.StringFixed(2))

	stored, err := f.repo.FindByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "60.00", stored.Total.StringFixed(2))
	assert.Equal(t, "60.00", stored.Items[0].TotalPrice.StringFixed(2))
}

func TestCreateOrderRetriesNumberCollisions(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f.conn, migratetest.Owner(t, f.conn), "ORD-20260810-000001", f.now)
	f.checkedOutCart(t, "5.00", 1, f.ago(time.Hour))
	numbers := &scriptedNumbers{values: []string{"ORD-20260810-000001", "ORD-20260810-000001", "ORD-20260810-000002"}}

	view, err := f.service(t, func(p *ServiceParams) { p.Numbers = numbers }).
		CreateOrder(context.Background(), f.owner.ID, f.input("0", "0", "0"))
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260810-000002", view.OrderNumber)
	assert.Equal(t, 3, numbers.calls)
}

func TestCreateOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f.conn, migratetest.Owner(t, f.conn), "ORD-20260810-000001", f.now)
	f.checkedOutCart(t, "5.00", 1, f.ago(time.Hour))
	numbers := &scriptedNumbers{values: []string{"ORD-20260810-000001"}}
	ctx := context.Background()

	_, err := f.service(t, func(p *ServiceParams) { p.Numbers = numbers }).
		CreateOrder(ctx, f.owner.ID, f.input("0", "0", "0"))
	requireCode(t, err, pkgerrors.CodeConflict)
	assert.Equal(t, maxNumberAttempts, numbers.calls)

	c, err := f.carts.GetByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Len(t, c.Items, 1, "failed conversion leaves the cart untouched")
	assert.NotNil(t, c.CheckoutDate)
}

func TestCreateOrderAuditFailure(t *testing.T) {
	t.Run("strict mode rolls back", func(t *testing.T) {
		f := newFixture(t)
		f.checkedOutCart(t, "5.00", 1, f.ago(time.Hour))
		ctx := context.Background()
		svc := f.service(t, func(p *ServiceParams) {
			p.Audit = brokenRecorder{}
			p.StrictAudit = true
		})

		_, err := svc.CreateOrder(ctx, f.owner.ID, f.input("0", "0", "0"))
		requireCode(t, err, pkgerrors.CodeDependency)

		var count int64
		require.NoError(t, f.conn.Model(&models.Order{}).Count(&count).Error)
		assert.Zero(t, count)
		c, err := f.carts.GetByOwner(ctx, f.owner.ID)
		require.NoError(t, err)
		assert.Len(t, c.Items, 1)
		assert.Empty(t, f.queue.Tasks())
	})

	t.Run("best effort mode continues", func(t *testing.T) {
		f := newFixture(t)
		f.checkedOutCart(t, "5.00", 1, f.ago(time.Hour))
		svc := f.service(t, func(p *ServiceParams) { p.Audit = brokenRecorder{} })

		view, err := svc.CreateOrder(context.Background(), f.owner.ID, f.input("0", "0", "0"))
		require.NoError(t, err)
		_, err = f.repo.FindByID(context.Background(), view.ID)
		require.NoError(t, err)
	})

	t.Run("best effort mode fails when the transaction is aborted", func(t *testing.T) {
		f := newFixture(t)
		f.checkedOutCart(t, "5.00", 1, f.ago(time.Hour))
		ctx := context.Background()
		svc := f.service(t, func(p *ServiceParams) { p.Audit = savepointDroppingRecorder{} })

		_, err := svc.CreateOrder(ctx, f.owner.ID, f.input("0", "0", "0"))
		requireCode(t, err, pkgerrors.CodeDependency)
		require.ErrorIs(t, err, auditlog.ErrTxAborted)

		var count int64
		require.NoError(t, f.conn.Model(&models.Order{}).Count(&count).Error)
		assert.Zero(t, count)
		c, err := f.carts.GetByOwner(ctx, f.owner.ID)
		require.NoError(t, err)
		assert.Len(t, c.Items, 1)
		assert.Empty(t, f.queue.Tasks())
	})
}

func TestGetOrderIsCachedUntilStatusChanges(t *testing.T) {
	f := newFixture(t)
	f.checkedOutCart(t, "7.00", 1, f.ago(time.Hour))
	ctx := context.Background()
	svc := f.service(t)

	view, err := svc.CreateOrder(ctx, f.owner.ID, f.input("0", "0", "0"))
	require.NoError(t, err)
	_, err = svc.GetOrder(ctx, f.owner.ID, view.ID)
	require.NoError(t, err)

	// A write behind the service's back stays invisible while the entry is cached.
	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", view.ID).Update("notes", "edited").Error)
	cached, err := svc.GetOrder(ctx, f.owner.ID, view.ID)
	require.NoError(t, err)
	assert.Nil(t, cached.Notes)

	_, err = svc.CancelOrder(ctx, f.owner.ID, view.ID)
	require.NoError(t, err)
	fresh, err := svc.GetOrder(ctx, f.owner.ID, view.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, fresh.Status)
	require.NotNil(t, fresh.Notes)

	_, err = svc.GetOrder(ctx, uuid.New(), view.ID)
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	f.checkedOutCart(t, "7.00", 1, f.ago(time.Hour))
	ctx := context.Background()
	svc := f.service(t)

	view, err := svc.CreateOrder(ctx, f.owner.ID, f.input("1", "0", "0"))
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, uuid.New(), view.ID)
	requireCode(t, err, pkgerrors.CodeNotFound)

	cancelled, err := svc.CancelOrder(ctx, f.owner.ID, view.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.True(t, cancelled.Total.Equal(view.Total))

	_, err = svc.CancelOrder(ctx, f.owner.ID, view.ID)
	requireCode(t, err, pkgerrors.CodeInvalidState)
}

func TestTransitionStatusFollowsLifecycle(t *testing.T) {
	f := newFixture(t)
	f.checkedOutCart(t, "7.00", 1, f.ago(time.Hour))
	ctx := context.Background()
	svc := f.service(t)
	admin := uuid.New()

	view, err := svc.CreateOrder(ctx, f.owner.ID, f.input("0", "0", "0"))
	require.NoError(t, err)

	_, err = svc.TransitionStatus(ctx, admin, view.ID, TransitionInput{Status: enums.OrderStatusDelivered})
	requireCode(t, err, pkgerrors.CodeInvalidState)

	_, err = svc.TransitionStatus(ctx, admin, view.ID, TransitionInput{Status: "lost"})
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = svc.TransitionStatus(ctx, admin, uuid.New(), TransitionInput{Status: enums.OrderStatusProcessing})
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = svc.TransitionStatus(ctx, admin, view.ID, TransitionInput{Status: enums.OrderStatusProcessing})
	require.NoError(t, err)

	note := "tracking 1Z999"
	shipped, err := svc.TransitionStatus(ctx, admin, view.ID, TransitionInput{Status: enums.OrderStatusShipped, Notes: &note})
	require.NoError(t, err)
	require.NotNil(t, shipped.ShippedAt)
	assert.True(t, shipped.ShippedAt.Equal(f.now))
	require.NotNil(t, shipped.Notes)
	assert.Equal(t, note, *shipped.Notes)

	delivered, err := svc.TransitionStatus(ctx, admin, view.ID, TransitionInput{Status: enums.OrderStatusDelivered})
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)
	assert.Equal(t, note, *delivered.Notes)
	assert.True(t, delivered.Total.Equal(view.Total))

	_, err = svc.CancelOrder(ctx, f.owner.ID, view.ID)
	requireCode(t, err, pkgerrors.CodeInvalidState)

	var changes int64
	require.NoError(t, f.conn.Model(&models.OperationLog{}).
		Where("subject_id = ? AND kind = ?", view.ID, enums.OperationOrderStatusChanged).
		Count(&changes).Error)
	assert.EqualValues(t, 3, changes)
}

func TestListOrdersPaginatesAndCaches(t *testing.T) {
	f := newFixture(t)
	base := f.now.Add(-72 * time.Hour)
	for i, number := range []string{"ORD-20260807-000001", "ORD-20260807-000002", "ORD-20260807-000003"} {
		seedOrder(t, f.conn, f.owner, number, base.Add(time.Duration(i)*time.Hour))
	}
	ctx := context.Background()
	svc := f.service(t)

	first, err := svc.ListOrders(ctx, f.owner.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "ORD-20260807-000003", first.Items[0].OrderNumber)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ListOrders(ctx, f.owner.ID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "ORD-20260807-000001", second.Items[0].OrderNumber)
	assert.Empty(t, second.NextCursor)

	var cached pagination.Page[OrderView]
	hit, err := f.store.Get(ctx, cache.Key("orders", f.owner.ID.String(), "list", "2"), &cached)
	require.NoError(t, err)
	require.True(t, hit)

	_, err = svc.ListOrders(ctx, f.owner.ID, pagination.Params{Cursor: "not-a-cursor"})
	requireCode(t, err, pkgerrors.CodeValidation)
}
