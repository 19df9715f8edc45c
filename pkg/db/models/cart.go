package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Cart is the single mutable basket of an owner. Version increments on every write
// and guards the cart against lost updates between read and order conversion.
type Cart struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID      uuid.UUID      `gorm:"column:owner_id;type:uuid;not null"`
	CheckoutDate *time.Time     `gorm:"column:checkout_date"`
	Version      int64          `gorm:"column:version;not null;default:1"`
	Items        []CartItem     `gorm:"foreignKey:CartID"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// CartItem stores the snapshot UnitPrice captured when the line was added or last corrected.
type CartItem struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CartID     uuid.UUID       `gorm:"column:cart_id;type:uuid;not null;index"`
	ProductID  uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	VariantID  *uuid.UUID      `gorm:"column:variant_id;type:uuid"`
	Quantity   int             `gorm:"column:quantity;not null"`
	UnitPrice  decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	AddedAt    time.Time       `gorm:"column:added_at;not null"`
	ModifiedAt time.Time       `gorm:"column:modified_at;not null"`
	DeletedAt  gorm.DeletedAt  `gorm:"column:deleted_at;index"`
}

// LineTotal returns Quantity x UnitPrice using the snapshot price.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SameLine reports whether the item references the given product and variant pair.
func (i CartItem) SameLine(productID uuid.UUID, variantID *uuid.UUID) bool {
	if i.ProductID != productID {
		return false
	}
	if i.VariantID == nil || variantID == nil {
		return i.VariantID == nil && variantID == nil
	}
	return *i.VariantID == *variantID
}
