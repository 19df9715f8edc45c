// Package pricesync reconciles cart snapshot prices with the live catalog.
package pricesync

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/tasks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type productReader interface {
	FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

// Engine prices carts with live catalog data and schedules corrections when the
// persisted snapshots have drifted.
type Engine struct {
	products productReader
	queue    tasks.Queue
	logg     *logger.Logger
	now      func() time.Time
}

func NewEngine(products productReader, queue tasks.Queue, logg *logger.Logger, now func() time.Time) (*Engine, error) {
	if products == nil {
		return nil, errors.New("product reader required")
	}
	if queue == nil {
		return nil, errors.New("task queue required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{products: products, queue: queue, logg: logg, now: now}, nil
}

// Sync returns the live-priced projection of c. When the rounded live total differs from
// the rounded snapshot total it enqueues one reprice task per drifted line and one
// checkout clear task. Lines whose product is gone are flagged unavailable and left out
// of both totals.
func (e *Engine) Sync(ctx context.Context, c *models.Cart) (*cart.Projection, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	now := e.now().UTC()
	products, err := e.products.FindProducts(ctx, productIDs(c.Items))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart products")
	}

	projection := &cart.Projection{
		CartID:       c.ID,
		OwnerID:      c.OwnerID,
		Version:      c.Version,
		CheckoutDate: c.CheckoutDate,
		Items:        make([]cart.ProjectedItem, 0, len(c.Items)),
		PricedAt:     now,
	}
	live := decimal.Zero
	snapshot := decimal.Zero
	var drifted []uuid.UUID

	for _, item := range c.Items {
		line := cart.ProjectedItem{
			ID:            item.ID,
			ProductID:     item.ProductID,
			VariantID:     item.VariantID,
			Quantity:      item.Quantity,
			SnapshotPrice: item.UnitPrice,
			UnitPrice:     item.UnitPrice,
			LineTotal:     decimal.Zero,
			AddedAt:       item.AddedAt,
			ModifiedAt:    item.ModifiedAt,
		}
		projection.ItemCount += item.Quantity

		product, ok := products[item.ProductID]
		if !ok {
			line.Unavailable = true
			projection.Items = append(projection.Items, line)
			continue
		}
		qty := decimal.NewFromInt(int64(item.Quantity))
		price := catalog.EffectivePrice(product, now)
		line.Name = product.Name
		line.UnitPrice = price
		line.LineTotal = price.Mul(qty)
		live = live.Add(line.LineTotal)
		snapshot = snapshot.Add(item.LineTotal())
		if !price.Equal(item.UnitPrice) {
			line.Drifted = true
			drifted = append(drifted, item.ID)
		}
		if next := catalog.NextPriceChange(product, now); next != nil {
			if projection.ValidUntil == nil || next.Before(*projection.ValidUntil) {
				projection.ValidUntil = next
			}
		}
		projection.Items = append(projection.Items, line)
	}

	projection.Total = live.Round(2)
	projection.SnapshotTotal = snapshot.Round(2)
	if projection.Total.Equal(projection.SnapshotTotal) {
		return projection, nil
	}

	projection.Drifted = true
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"cart_id":        c.ID.String(),
		"live_total":     projection.Total.String(),
		"snapshot_total": projection.SnapshotTotal.String(),
		"drifted_items":  len(drifted),
	}), "cart price drift detected")

	for _, itemID := range drifted {
		tasks.Submit(ctx, e.queue, e.logg, enums.TaskCartItemReprice, RepricePayload{CartID: c.ID, ItemID: itemID})
	}
	tasks.Submit(ctx, e.queue, e.logg, enums.TaskCartCheckoutClear, ClearCheckoutPayload{CartID: c.ID, DetectedAt: now})
	return projection, nil
}

func productIDs(items []models.CartItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}
