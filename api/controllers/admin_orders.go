package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/google/uuid"
)

type orderStatusRequest struct {
	Status string  `json:"status" validate:"required,oneof=processing shipped delivered cancelled"`
	Notes  *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// AdminOrderStatus moves an order along its lifecycle on behalf of operations staff.
func AdminOrderStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireOwner(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload orderStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.TransitionStatus(r.Context(), actorID, orderID, orders.TransitionInput{
			Status: enums.OrderStatus(payload.Status),
			Notes:  notes(payload.Notes),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ProductNotifier receives catalog edits made by admin tooling.
type ProductNotifier interface {
	ProductChanged(ctx context.Context, productID uuid.UUID)
}

// AdminProductChanged schedules cache eviction for carts that hold the product.
func AdminProductChanged(notifier ProductNotifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		notifier.ProductChanged(r.Context(), productID)
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"productId": productID.String()})
	}
}
