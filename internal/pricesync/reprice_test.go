package pricesync

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate/migratetest"
	"github.com/angelmondragon/storefront-backend/pkg/tasks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingEvicter struct {
	tags []string
}

func (r *recordingEvicter) Enqueue(_ context.Context, tags ...string) {
	r.tags = append(r.tags, tags...)
}

func (f *fixture) repriceHandler(t *testing.T, now time.Time, evicter *recordingEvicter) *RepriceHandler {
	t.Helper()
	h, err := NewRepriceHandler(db.Wrap(f.conn), f.carts, f.catalog, evicter, logger.Nop(), fixedClock(now))
	require.NoError(t, err)
	return h
}

func TestRepriceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	product := migratetest.Product(t, f.conn, "80.00")
	migratetest.Discount(t, f.conn, product.ID, "25", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	c := f.cartWith(t, line(product, 1, "80.00"))
	ctx := context.Background()

	evicter := &recordingEvicter{}
	handler := f.repriceHandler(t, baseTime, evicter)
	task, err := tasks.New(enums.TaskCartItemReprice, RepricePayload{CartID: c.ID, ItemID: c.Items[0].ID})
	require.NoError(t, err)

	require.NoError(t, handler.Handle(ctx, task))
	after, err := f.carts.GetByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	require.True(t, after.Items[0].UnitPrice.Equal(decimal.RequireFromString("60.00")))
	require.Equal(t, c.Version+1, after.Version)
	require.Equal(t, []string{"cart:" + f.owner.ID.String()}, evicter.tags)

	require.NoError(t, handler.Handle(ctx, task))
	again, err := f.carts.GetByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	require.True(t, again.Items[0].UnitPrice.Equal(decimal.RequireFromString("60.00")))
	require.Equal(t, after.Version, again.Version)
	require.Len(t, evicter.tags, 1)
}

func TestRepriceAfterFurtherChangeUsesRunTimePrice(t *testing.T) {
	f := newFixture(t)
	product := migratetest.Product(t, f.conn, "10.00")
	migratetest.Discount(t, f.conn, product.ID, "50", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	c := f.cartWith(t, line(product, 2, "10.00"))

	// The discount has ended by the time the job runs, so the snapshot is already right.
	handler := f.repriceHandler(t, baseTime.Add(2*time.Hour), &recordingEvicter{})
	changed, _, err := handler.Reprice(context.Background(), c.ID, c.Items[0].ID)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestRepriceMissingTargetsAreNoOps(t *testing.T) {
	f := newFixture(t)
	product := migratetest.Product(t, f.conn, "10.00")
	c := f.cartWith(t, line(product, 1, "12.00"))
	handler := f.repriceHandler(t, baseTime, &recordingEvicter{})
	ctx := context.Background()

	changed, _, err := handler.Reprice(ctx, uuid.New(), c.Items[0].ID)
	require.NoError(t, err)
	require.False(t, changed)

	changed, _, err = handler.Reprice(ctx, c.ID, uuid.New())
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, f.conn.Delete(&models.Product{ID: product.ID}).Error)
	changed, _, err = handler.Reprice(ctx, c.ID, c.Items[0].ID)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestRepriceRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	handler := f.repriceHandler(t, baseTime, &recordingEvicter{})
	err := handler.Handle(context.Background(), tasks.Task{Type: enums.TaskCartItemReprice, Payload: []byte("{")})
	require.True(t, tasks.IsNonRetryable(err))
}
