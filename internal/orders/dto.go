package orders

import (
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateOrderInput carries the caller-supplied charges of a new order.
type CreateOrderInput struct {
	PaymentMethodID   uuid.UUID
	PaymentProviderID uuid.UUID
	Tax               decimal.Decimal
	Shipping          decimal.Decimal
	Discount          decimal.Decimal
	Notes             *string
}

// TransitionInput moves an order along its lifecycle.
type TransitionInput struct {
	Status enums.OrderStatus
	Notes  *string
}

// OrderView is the API and cache representation of an order.
type OrderView struct {
	ID             uuid.UUID         `json:"id"`
	OrderNumber    string            `json:"orderNumber"`
	OwnerID        uuid.UUID         `json:"ownerId"`
	CartID         uuid.UUID         `json:"cartId"`
	Status         enums.OrderStatus `json:"status"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	TaxAmount      decimal.Decimal   `json:"taxAmount"`
	ShippingCost   decimal.Decimal   `json:"shippingCost"`
	DiscountAmount decimal.Decimal   `json:"discountAmount"`
	Total          decimal.Decimal   `json:"total"`
	Notes          *string           `json:"notes,omitempty"`
	Items          []OrderItemView   `json:"items"`
	Payment        *PaymentView      `json:"payment,omitempty"`
	ShippedAt      *time.Time        `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time        `json:"deliveredAt,omitempty"`
	CancelledAt    *time.Time        `json:"cancelledAt,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

type OrderItemView struct {
	ID         uuid.UUID       `json:"id"`
	ProductID  uuid.UUID       `json:"productId"`
	VariantID  *uuid.UUID      `json:"variantId,omitempty"`
	Position   int             `json:"position"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	OrderedAt  time.Time       `json:"orderedAt"`
}

type PaymentView struct {
	ID         uuid.UUID           `json:"id"`
	MethodID   uuid.UUID           `json:"paymentMethodId"`
	ProviderID uuid.UUID           `json:"paymentProviderId"`
	Amount     decimal.Decimal     `json:"amount"`
	Status     enums.PaymentStatus `json:"status"`
}

func toView(order *models.Order) *OrderView {
	view := &OrderView{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		OwnerID:        order.OwnerID,
		CartID:         order.CartID,
		Status:         order.Status,
		Subtotal:       order.Subtotal,
		TaxAmount:      order.TaxAmount,
		ShippingCost:   order.ShippingCost,
		DiscountAmount: order.DiscountAmount,
		Total:          order.Total,
		Notes:          order.Notes,
		Items:          make([]OrderItemView, 0, len(order.Items)),
		ShippedAt:      order.ShippedAt,
		DeliveredAt:    order.DeliveredAt,
		CancelledAt:    order.CancelledAt,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, OrderItemView{
			ID:         item.ID,
			ProductID:  item.ProductID,
			VariantID:  item.VariantID,
			Position:   item.Position,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
			OrderedAt:  item.OrderedAt,
		})
	}
	if order.Payment != nil {
		view.Payment = &PaymentView{
			ID:         order.Payment.ID,
			MethodID:   order.Payment.MethodID,
			ProviderID: order.Payment.ProviderID,
			Amount:     order.Payment.Amount,
			Status:     order.Payment.Status,
		}
	}
	return view
}
