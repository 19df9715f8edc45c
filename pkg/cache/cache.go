// Package cache provides a tag-addressable read-through cache. Values are JSON encoded
// and every tag tracks the keys stored under it so related entries can be evicted together.
package cache

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// Store is the cache abstraction used by read paths.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error
	RemoveByTag(ctx context.Context, tag string) error
	RemoveByTags(ctx context.Context, tags ...string) error
}

const (
	TagCarts = "carts"

	jitterFraction = 10
)

// Key composes a cache key from its parts, skipping blanks.
func Key(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			clean = append(clean, part)
		}
	}
	return strings.Join(clean, ":")
}

// CartTag groups every cached projection of one owner's cart.
func CartTag(ownerID string) string {
	return Key("cart", ownerID)
}

// ProductTag groups cached projections that include the product.
func ProductTag(productID string) string {
	return Key("product", productID)
}

// OrdersTag groups every cached order read of one owner.
func OrdersTag(ownerID string) string {
	return Key("orders", ownerID)
}

// withJitter shortens ttl by up to a tenth so hot keys do not expire together. The
// result never exceeds ttl.
func withJitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	window := int64(ttl) / jitterFraction
	if window <= 0 {
		return ttl
	}
	return ttl - time.Duration(rand.Int63n(window))
}
