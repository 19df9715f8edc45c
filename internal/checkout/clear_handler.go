package checkout

import (
	"context"
	"errors"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/pricesync"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/tasks"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClearHandler executes cart.checkout.clear tasks. A confirmation newer than the drift
// detection survives, so a late job cannot revoke a fresh re-checkout.
type ClearHandler struct {
	tx        txRunner
	carts     cart.CartRepository
	evictions tagEvicter
	logg      *logger.Logger
}

func NewClearHandler(tx txRunner, carts cart.CartRepository, evictions tagEvicter, logg *logger.Logger) (*ClearHandler, error) {
	switch {
	case tx == nil:
		return nil, errors.New("transaction runner required")
	case carts == nil:
		return nil, errors.New("cart repository required")
	case evictions == nil:
		return nil, errors.New("cache invalidator required")
	case logg == nil:
		return nil, errors.New("logger required")
	}
	return &ClearHandler{tx: tx, carts: carts, evictions: evictions, logg: logg}, nil
}

func (h *ClearHandler) Handle(ctx context.Context, task tasks.Task) error {
	var payload pricesync.ClearCheckoutPayload
	if err := task.Decode(&payload); err != nil {
		return err
	}
	cleared, ownerID, err := h.Clear(ctx, payload)
	if err != nil {
		return err
	}
	if cleared {
		h.logg.Info(h.logg.WithFields(ctx, map[string]any{
			"cart_id":     payload.CartID.String(),
			"detected_at": payload.DetectedAt,
		}), "checkout confirmation revoked after price drift")
		h.evictions.Evict(ctx, cache.CartTag(ownerID.String()))
	}
	return nil
}

// Clear revokes the confirmation when it is not newer than payload.DetectedAt.
func (h *ClearHandler) Clear(ctx context.Context, payload pricesync.ClearCheckoutPayload) (bool, uuid.UUID, error) {
	var (
		cleared bool
		ownerID uuid.UUID
	)
	err := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := h.carts.WithTx(tx)
		locked, err := repo.LockByID(ctx, payload.CartID)
		if err != nil {
			return err
		}
		if locked == nil || locked.CheckoutDate == nil {
			return nil
		}
		if locked.CheckoutDate.After(payload.DetectedAt) {
			return nil
		}
		if _, err := repo.UpdateCheckoutDate(ctx, locked.ID, locked.Version, nil); err != nil {
			return err
		}
		cleared = true
		ownerID = locked.OwnerID
		return nil
	})
	return cleared, ownerID, err
}
