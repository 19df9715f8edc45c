package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/migrate/migratetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRepositoryFindProductPreloads(t *testing.T) {
	conn := migratetest.NewSQLite(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	product := migratetest.Product(t, conn, "25.00")
	variant := migratetest.Variant(t, conn, product.ID, 4)
	base := time.Now().UTC()
	migratetest.Discount(t, conn, product.ID, "10", base.Add(time.Hour), base.Add(2*time.Hour))
	migratetest.Discount(t, conn, product.ID, "20", base.Add(-time.Hour), base.Add(time.Hour))

	got, err := repo.FindProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, got.Variants, 1)
	require.Equal(t, variant.ID, got.Variants[0].ID)
	require.Len(t, got.Discounts, 2)
	require.True(t, got.Discounts[0].StartDate.Before(got.Discounts[1].StartDate))
	require.True(t, EffectivePrice(*got, base).Equal(dec("20.00")))
}

func TestRepositoryExcludesSoftDeleted(t *testing.T) {
	conn := migratetest.NewSQLite(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	kept := migratetest.Product(t, conn, "1.00")
	gone := migratetest.Product(t, conn, "2.00")
	require.NoError(t, conn.Delete(&gone).Error)

	_, err := repo.FindProduct(ctx, gone.ID)
	require.True(t, db.IsNotFound(err))

	found, err := repo.FindProducts(ctx, []uuid.UUID{kept.ID, gone.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Contains(t, found, kept.ID)

	empty, err := repo.FindProducts(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestRepositoryFindVariantScopedToProduct(t *testing.T) {
	conn := migratetest.NewSQLite(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	product := migratetest.Product(t, conn, "5.00")
	other := migratetest.Product(t, conn, "6.00")
	variant := migratetest.Variant(t, conn, product.ID, 2)

	got, err := repo.FindVariant(ctx, product.ID, variant.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Quantity)

	_, err = repo.FindVariant(ctx, other.ID, variant.ID)
	require.True(t, db.IsNotFound(err))
}

func TestRepositoryFindProductIncludingDeleted(t *testing.T) {
	conn := migratetest.NewSQLite(t)
	repo := NewRepository(conn)

	gone := migratetest.Product(t, conn, "2.00")
	require.NoError(t, conn.Delete(&gone).Error)

	got, err := repo.FindProductIncludingDeleted(context.Background(), gone.ID)
	require.NoError(t, err)
	require.True(t, got.DeletedAt.Valid)

	_, err = repo.FindProductIncludingDeleted(context.Background(), uuid.New())
	require.True(t, db.IsNotFound(err))
}
