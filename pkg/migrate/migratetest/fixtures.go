package migratetest

import (
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func mustCreate(t testing.TB, db *gorm.DB, value any) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("seed %T: %v", value, err)
	}
}

// Owner inserts an owner with a unique email.
func Owner(t testing.TB, db *gorm.DB) models.Owner {
	t.Helper()
	owner := models.Owner{ID: uuid.New(), DisplayName: "Test Owner"}
	owner.Email = fmt.Sprintf("%s@example.com", owner.ID)
	mustCreate(t, db, &owner)
	return owner
}

// Product inserts an active product with the given unit price.
func Product(t testing.TB, db *gorm.DB, price string) models.Product {
	t.Helper()
	product := models.Product{
		ID:       uuid.New(),
		Name:     "Test Product",
		Price:    decimal.RequireFromString(price),
		IsActive: true,
	}
	product.SKU = "SKU-" + product.ID.String()[:8]
	mustCreate(t, db, &product)
	return product
}

// Variant inserts a variant of productID with stock units available.
func Variant(t testing.TB, db *gorm.DB, productID uuid.UUID, stock int) models.ProductVariant {
	t.Helper()
	variant := models.ProductVariant{ProductID: productID, Name: "Default", Quantity: stock}
	mustCreate(t, db, &variant)
	return variant
}

// Discount inserts an active discount valid on [start, end).
func Discount(t testing.TB, db *gorm.DB, productID uuid.UUID, percent string, start, end time.Time) models.Discount {
	t.Helper()
	discount := models.Discount{
		ProductID: productID,
		Percent:   decimal.RequireFromString(percent),
		IsActive:  true,
		StartDate: start.UTC(),
		EndDate:   end.UTC(),
	}
	mustCreate(t, db, &discount)
	return discount
}

// PaymentMethod inserts a payment method.
func PaymentMethod(t testing.TB, db *gorm.DB) models.PaymentMethod {
	t.Helper()
	method := models.PaymentMethod{Name: "card"}
	mustCreate(t, db, &method)
	return method
}

// PaymentProvider inserts a provider with the given activity flag.
func PaymentProvider(t testing.TB, db *gorm.DB, active bool) models.PaymentProvider {
	t.Helper()
	provider := models.PaymentProvider{Name: "acme-pay", IsActive: active}
	mustCreate(t, db, &provider)
	return provider
}
