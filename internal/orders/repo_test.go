package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/migrate/migratetest"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedOrder(t *testing.T, conn *gorm.DB, owner models.Owner, number string, createdAt time.Time) *models.Order {
	t.Helper()
	ctx := context.Background()
	carts := cart.NewRepository(conn)
	c, err := carts.GetByOwner(ctx, owner.ID)
	require.NoError(t, err)
	if c == nil {
		c, err = carts.Create(ctx, owner.ID)
		require.NoError(t, err)
	}
	product := migratetest.Product(t, conn, "4.00")
	method := migratetest.PaymentMethod(t, conn)
	provider := migratetest.PaymentProvider(t, conn, true)

	repo := NewRepository(conn)
	order := &models.Order{
		OrderNumber:    number,
		OwnerID:        owner.ID,
		CartID:         c.ID,
		Status:         enums.OrderStatusPending,
		Subtotal:       decimal.RequireFromString("8.00"),
		TaxAmount:      decimal.Zero,
		ShippingCost:   decimal.Zero,
		DiscountAmount: decimal.Zero,
		Total:          decimal.RequireFromString("8.00"),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	require.NoError(t, repo.CreateOrder(ctx, order))
	require.NoError(t, repo.CreateItems(ctx, []models.OrderItem{
		{OrderID: order.ID, ProductID: product.ID, Position: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("4.00"), TotalPrice: decimal.RequireFromString("4.00"), OrderedAt: createdAt},
		{OrderID: order.ID, ProductID: product.ID, Position: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("4.00"), TotalPrice: decimal.RequireFromString("4.00"), OrderedAt: createdAt},
	}))
	require.NoError(t, repo.CreatePayment(ctx, &models.Payment{
		OrderID:    order.ID,
		MethodID:   method.ID,
		ProviderID: provider.ID,
		Amount:     order.Total,
		Status:     enums.PaymentStatusPending,
	}))
	return order
}

func TestRepositoryFindLoadsItemsAndPayment(t *testing.T) {
	conn := migratetest.NewSQLite(t)
	owner := migratetest.Owner(t, conn)
	created := seedOrder(t, conn, owner, "ORD-20260101-000001", time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	repo := NewRepository(conn)
	ctx := context.Background()

	found, err := repo.FindForOwner(ctx, owner.ID, created.ID)
	require.NoError(t, err)
	require.Len(t, found.Items, 2)
	assert.Equal(t, 1, found.Items[0].Position)
	assert.Equal(t, 2, found.Items[1].Position)
	require.NotNil(t, found.Payment)
	assert.Equal(t, enums.PaymentStatusPending, found.Payment.Status)
	assert.True(t, found.Payment.Amount.Equal(created.Total))

	_, err = repo.FindForOwner(ctx, uuid.New(), created.ID)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRepositoryOrderNumberIsUnique(t *testing.T) {
	conn := migratetest.NewSQLite(t)
	owner := migratetest.Owner(t, conn)
	first := seedOrder(t, conn, owner, "ORD-20260101-000001", time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	dup := &models.Order{
		OrderNumber:    first.OrderNumber,
		OwnerID:        owner.ID,
		CartID:         first.CartID,
		Status:         enums.OrderStatusPending,
		Subtotal:       decimal.Zero,
		TaxAmount:      decimal.Zero,
		ShippingCost:   decimal.Zero,
		DiscountAmount: decimal.Zero,
		Total:          decimal.Zero,
	}
	err := NewRepository(conn).CreateOrder(context.Background(), dup)
	require.Error(t, err)
	require.True(t, isOrderNumberTaken(err))
}

func TestRepositoryOtherUniqueKeysAreNotNumberCollisions(t *testing.T) {
	conn := migratetest.NewSQLite(t)
	owner := migratetest.Owner(t, conn)
	first := seedOrder(t, conn, owner, "ORD-20260101-000001", time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	sameID := &models.Order{
		ID:             first.ID,
		OrderNumber:    "ORD-20260101-000002",
		OwnerID:        owner.ID,
		CartID:         first.CartID,
		Status:         enums.OrderStatusPending,
		Subtotal:       decimal.Zero,
		TaxAmount:      decimal.Zero,
		ShippingCost:   decimal.Zero,
		DiscountAmount: decimal.Zero,
		Total:          decimal.Zero,
	}
	err := NewRepository(conn).CreateOrder(context.Background(), sameID)
	require.Error(t, err)
	require.False(t, isOrderNumberTaken(err))
}

func TestRepositoryListByOwnerPaginatesNewestFirst(t *testing.T) {
	conn := migratetest.NewSQLite(t)
	owner := migratetest.Owner(t, conn)
	other := migratetest.Owner(t, conn)
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i, number := range []string{"ORD-20260201-000001", "ORD-20260201-000002", "ORD-20260201-000003"} {
		ids = append(ids, seedOrder(t, conn, owner, number, base.Add(time.Duration(i)*time.Hour)).ID)
	}
	seedOrder(t, conn, other, "ORD-20260201-000004", base)

	repo := NewRepository(conn)
	ctx := context.Background()

	rows, err := repo.ListByOwner(ctx, owner.ID, nil, 2)
	require.NoError(t, err)
	require.Len(t, rows, 3, "one extra row signals another page")
	page := pagination.Paginate(rows, 2, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2], page.Items[0].ID)
	assert.Equal(t, ids[1], page.Items[1].ID)
	require.NotEmpty(t, page.NextCursor)

	cursor, err := pagination.ParseCursor(page.NextCursor)
	require.NoError(t, err)
	rows, err = repo.ListByOwner(ctx, owner.ID, cursor, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ids[0], rows[0].ID)
}

func TestRepositoryUpdateStatusChecksCurrentStatus(t *testing.T) {
	conn := migratetest.NewSQLite(t)
	owner := migratetest.Owner(t, conn)
	order := seedOrder(t, conn, owner, "ORD-20260301-000001", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	repo := NewRepository(conn)
	ctx := context.Background()
	shippedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	applied, err := repo.UpdateStatus(ctx, order.ID, enums.OrderStatusProcessing, StatusUpdate{
		Status:    enums.OrderStatusShipped,
		ShippedAt: &shippedAt,
		UpdatedAt: shippedAt,
	})
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = repo.UpdateStatus(ctx, order.ID, enums.OrderStatusPending, StatusUpdate{
		Status:    enums.OrderStatusProcessing,
		UpdatedAt: shippedAt,
	})
	require.NoError(t, err)
	require.True(t, applied)

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, found.Status)
	assert.Nil(t, found.ShippedAt)
	assert.True(t, found.Total.Equal(order.Total))
}
