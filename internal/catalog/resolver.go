package catalog

import (
	"sort"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DiscountValid reports whether d applies at now. The window is closed on StartDate
// and open on EndDate.
func DiscountValid(d models.Discount, now time.Time) bool {
	if !d.IsActive || d.DeletedAt.Valid {
		return false
	}
	if d.Percent.IsNegative() || d.Percent.GreaterThan(hundred) {
		return false
	}
	return !now.Before(d.StartDate) && now.Before(d.EndDate)
}

// ActiveDiscount returns the first valid discount by ascending StartDate, or nil.
func ActiveDiscount(discounts []models.Discount, now time.Time) *models.Discount {
	ordered := sortedByStart(discounts)
	for i := range ordered {
		if DiscountValid(ordered[i], now) {
			return &ordered[i]
		}
	}
	return nil
}

// EffectivePrice is the product's unit price at now after any valid discount, rounded to cents.
func EffectivePrice(product models.Product, now time.Time) decimal.Decimal {
	price := product.Price
	if d := ActiveDiscount(product.Discounts, now); d != nil {
		factor := hundred.Sub(d.Percent).Div(hundred)
		price = price.Mul(factor)
	}
	return price.Round(2)
}

// NextPriceChange returns the earliest discount boundary after now, the moment the
// effective price may change. Nil means the price is stable.
func NextPriceChange(product models.Product, now time.Time) *time.Time {
	var next *time.Time
	consider := func(t time.Time) {
		if !t.After(now) {
			return
		}
		if next == nil || t.Before(*next) {
			at := t
			next = &at
		}
	}
	for _, d := range product.Discounts {
		if !d.IsActive || d.DeletedAt.Valid {
			continue
		}
		consider(d.StartDate)
		consider(d.EndDate)
	}
	return next
}

func sortedByStart(discounts []models.Discount) []models.Discount {
	out := make([]models.Discount, len(discounts))
	copy(out, discounts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out
}
