package cart

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CartRepository defines the persistence surface shared by the cart, checkout, pricing and order packages.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error)
	LockByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error)
	LockByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	Exists(ctx context.Context, ownerID uuid.UUID) (bool, error)
	Create(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error)
	GetItem(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID) (*models.CartItem, error)
	FindItem(ctx context.Context, cartID, itemID uuid.UUID) (*models.CartItem, error)
	AddItem(ctx context.Context, item *models.CartItem) error
	UpdateItem(ctx context.Context, item *models.CartItem) error
	RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) (bool, error)
	Clear(ctx context.Context, cartID uuid.UUID) (bool, error)
	ItemCount(ctx context.Context, ownerID uuid.UUID) (int, error)
	IsEmpty(ctx context.Context, ownerID uuid.UUID) (bool, error)
	UpdateCheckoutDate(ctx context.Context, cartID uuid.UUID, expectedVersion int64, value *time.Time) (int64, error)
	BumpVersion(ctx context.Context, cartID uuid.UUID, expectedVersion int64) (int64, error)
	Version(ctx context.Context, cartID uuid.UUID) (int64, error)
	ListCheckedOut(ctx context.Context, q CheckedOutQuery) ([]models.Cart, error)
}
