package catalog

import (
	"context"
	"errors"

	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/google/uuid"
)

type tagInvalidator interface {
	Enqueue(ctx context.Context, tags ...string)
}

// Invalidator drops cached cart projections after catalog edits so the next read re-prices.
type Invalidator struct {
	cache tagInvalidator
}

func NewInvalidator(inv tagInvalidator) (*Invalidator, error) {
	if inv == nil {
		return nil, errors.New("cache invalidator required")
	}
	return &Invalidator{cache: inv}, nil
}

// ProductChanged schedules eviction of every cached projection containing productID.
func (i *Invalidator) ProductChanged(ctx context.Context, productID uuid.UUID) {
	if productID == uuid.Nil {
		return
	}
	i.cache.Enqueue(ctx, cache.ProductTag(productID.String()))
}
