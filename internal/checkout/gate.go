package checkout

import (
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const DefaultWindow = 7 * 24 * time.Hour

// Validate passes when c holds a checkout confirmation no older than window at now.
func Validate(c *models.Cart, now time.Time, window time.Duration) error {
	if c == nil || c.CheckoutDate == nil {
		return pkgerrors.New(pkgerrors.CodeCheckoutRequired, "cart checkout confirmation required")
	}
	if c.CheckoutDate.Add(window).Before(now) {
		return pkgerrors.New(pkgerrors.CodeCheckoutRequired, "cart checkout confirmation expired").
			WithDetails(map[string]any{"checkoutDate": c.CheckoutDate.UTC(), "window": window.String()})
	}
	return nil
}
