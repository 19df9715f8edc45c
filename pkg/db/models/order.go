package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Order is immutable after creation except for Status, the lifecycle timestamps and Notes.
type Order struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber    string            `gorm:"column:order_number;not null;uniqueIndex"`
	OwnerID        uuid.UUID         `gorm:"column:owner_id;type:uuid;not null;index"`
	CartID         uuid.UUID         `gorm:"column:cart_id;type:uuid;not null"`
	Status         enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	Subtotal       decimal.Decimal   `gorm:"column:subtotal;type:numeric(12,2);not null"`
	TaxAmount      decimal.Decimal   `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	ShippingCost   decimal.Decimal   `gorm:"column:shipping_cost;type:numeric(12,2);not null"`
	DiscountAmount decimal.Decimal   `gorm:"column:discount_amount;type:numeric(12,2);not null"`
	Total          decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null"`
	Notes          *string           `gorm:"column:notes"`
	Items          []OrderItem       `gorm:"foreignKey:OrderID"`
	Payment        *Payment          `gorm:"foreignKey:OrderID"`
	ShippedAt      *time.Time        `gorm:"column:shipped_at"`
	DeliveredAt    *time.Time        `gorm:"column:delivered_at"`
	CancelledAt    *time.Time        `gorm:"column:cancelled_at"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem is a frozen copy of a cart line at conversion time.
type OrderItem struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID  uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	VariantID  *uuid.UUID      `gorm:"column:variant_id;type:uuid"`
	Position   int             `gorm:"column:position;not null"`
	Quantity   int             `gorm:"column:quantity;not null"`
	UnitPrice  decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	TotalPrice decimal.Decimal `gorm:"column:total_price;type:numeric(12,2);not null"`
	OrderedAt  time.Time       `gorm:"column:ordered_at;not null"`
}
