package pricesync

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/tasks"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type tagEvicter interface {
	Enqueue(ctx context.Context, tags ...string)
}

// RepriceHandler writes the current effective price onto one cart line. It re-checks
// the price under the cart lock, so duplicate or late deliveries are no-ops.
type RepriceHandler struct {
	tx        txRunner
	carts     cart.CartRepository
	products  productLoader
	evictions tagEvicter
	logg      *logger.Logger
	now       func() time.Time
}

func NewRepriceHandler(tx txRunner, carts cart.CartRepository, products productLoader, evictions tagEvicter, logg *logger.Logger, now func() time.Time) (*RepriceHandler, error) {
	switch {
	case tx == nil:
		return nil, errors.New("transaction runner required")
	case carts == nil:
		return nil, errors.New("cart repository required")
	case products == nil:
		return nil, errors.New("product loader required")
	case evictions == nil:
		return nil, errors.New("cache invalidator required")
	case logg == nil:
		return nil, errors.New("logger required")
	}
	if now == nil {
		now = time.Now
	}
	return &RepriceHandler{tx: tx, carts: carts, products: products, evictions: evictions, logg: logg, now: now}, nil
}

func (h *RepriceHandler) Handle(ctx context.Context, task tasks.Task) error {
	var payload RepricePayload
	if err := task.Decode(&payload); err != nil {
		return err
	}
	changed, ownerID, err := h.Reprice(ctx, payload.CartID, payload.ItemID)
	if err != nil {
		return err
	}
	if changed {
		h.evictions.Enqueue(ctx, cache.CartTag(ownerID.String()))
	}
	return nil
}

// Reprice corrects one line and reports whether a write happened.
func (h *RepriceHandler) Reprice(ctx context.Context, cartID, itemID uuid.UUID) (bool, uuid.UUID, error) {
	var (
		changed bool
		ownerID uuid.UUID
	)
	err := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := h.carts.WithTx(tx)
		locked, err := repo.LockByID(ctx, cartID)
		if err != nil || locked == nil {
			return err
		}
		item, err := repo.FindItem(ctx, locked.ID, itemID)
		if err != nil || item == nil {
			return err
		}
		product, err := h.products.FindProduct(ctx, item.ProductID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := h.now().UTC()
		price := catalog.EffectivePrice(*product, now)
		if price.Equal(item.UnitPrice) {
			return nil
		}
		h.logg.Info(h.logg.WithFields(ctx, map[string]any{
			"cart_id":  locked.ID.String(),
			"item_id":  item.ID.String(),
			"previous": item.UnitPrice.String(),
			"current":  price.String(),
		}), "repricing cart item")
		item.UnitPrice = price
		item.ModifiedAt = now
		if err := repo.UpdateItem(ctx, item); err != nil {
			return err
		}
		if _, err := repo.BumpVersion(ctx, locked.ID, locked.Version); err != nil {
			return err
		}
		changed = true
		ownerID = locked.OwnerID
		return nil
	})
	if err != nil {
		return false, uuid.Nil, err
	}
	return changed, ownerID, nil
}
