package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a catalog entry. Price is the undiscounted unit price.
type Product struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SKU       string           `gorm:"column:sku;not null"`
	Name      string           `gorm:"column:name;not null"`
	Price     decimal.Decimal  `gorm:"column:price;type:numeric(12,2);not null"`
	IsActive  bool             `gorm:"column:is_active;not null"`
	Variants  []ProductVariant `gorm:"foreignKey:ProductID"`
	Discounts []Discount       `gorm:"foreignKey:ProductID"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt   `gorm:"column:deleted_at;index"`
}

// ProductVariant is a purchasable option of a product with its own stock.
type ProductVariant struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	ProductID uuid.UUID      `gorm:"column:product_id;type:uuid;not null;index"`
	Name      string         `gorm:"column:name;not null"`
	Quantity  int            `gorm:"column:quantity;not null;default:0"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// Discount is a percentage reduction valid on [StartDate, EndDate).
type Discount struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index"`
	Percent   decimal.Decimal `gorm:"column:percent;type:numeric(5,2);not null"`
	IsActive  bool            `gorm:"column:is_active;not null"`
	StartDate time.Time       `gorm:"column:start_date;not null"`
	EndDate   time.Time       `gorm:"column:end_date;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt  `gorm:"column:deleted_at;index"`
}
