package pricesync

import (
	"time"

	"github.com/google/uuid"
)

// RepricePayload is the body of a cart.item.reprice task.
type RepricePayload struct {
	CartID uuid.UUID `json:"cart_id"`
	ItemID uuid.UUID `json:"item_id"`
}

// ClearCheckoutPayload is the body of a cart.checkout.clear task. DetectedAt is when the
// drift was observed; confirmations made after it are kept.
type ClearCheckoutPayload struct {
	CartID     uuid.UUID `json:"cart_id"`
	DetectedAt time.Time `json:"detected_at"`
}
