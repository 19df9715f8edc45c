package cart

import (
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Projection is the priced view of a cart. Item prices are live catalog prices; the
// persisted snapshot is reported next to them.
type Projection struct {
	CartID        uuid.UUID       `json:"cartId"`
	OwnerID       uuid.UUID       `json:"ownerId"`
	Version       int64           `json:"version"`
	CheckoutDate  *time.Time      `json:"checkoutDate,omitempty"`
	Items         []ProjectedItem `json:"items"`
	ItemCount     int             `json:"itemCount"`
	Total         decimal.Decimal `json:"total"`
	SnapshotTotal decimal.Decimal `json:"snapshotTotal"`
	Drifted       bool            `json:"drifted"`
	PricedAt      time.Time       `json:"pricedAt"`
	// ValidUntil is the earliest discount boundary among the items, if any.
	ValidUntil *time.Time `json:"-"`
}

type ProjectedItem struct {
	ID            uuid.UUID       `json:"id"`
	ProductID     uuid.UUID       `json:"productId"`
	VariantID     *uuid.UUID      `json:"variantId,omitempty"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	SnapshotPrice decimal.Decimal `json:"snapshotPrice"`
	LineTotal     decimal.Decimal `json:"lineTotal"`
	Unavailable   bool            `json:"unavailable"`
	Drifted       bool            `json:"drifted"`
	AddedAt       time.Time       `json:"addedAt"`
	ModifiedAt    time.Time       `json:"modifiedAt"`
}

// CacheTags lists the tags a cached copy of p is stored under.
func (p *Projection) CacheTags() []string {
	tags := []string{cache.CartTag(p.OwnerID.String()), cache.TagCarts}
	seen := make(map[uuid.UUID]struct{}, len(p.Items))
	for _, item := range p.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		tags = append(tags, cache.ProductTag(item.ProductID.String()))
	}
	return tags
}

// CacheTTL caps ttl at the next price boundary relative to now.
func (p *Projection) CacheTTL(ttl time.Duration, now time.Time) time.Duration {
	if p.ValidUntil == nil {
		return ttl
	}
	if until := p.ValidUntil.Sub(now); until < ttl {
		return until
	}
	return ttl
}
