package cart

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists carts and their items. Soft-deleted rows are hidden by GORM's default scope.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func withItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(q *gorm.DB) *gorm.DB {
		return q.Order("added_at ASC, id ASC")
	})
}

func firstOrNil(query *gorm.DB, dest *models.Cart) (*models.Cart, error) {
	err := query.First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dest, nil
}

// GetByOwner returns the owner's live cart with items, or nil when the owner has none.
func (r *Repository) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	return firstOrNil(withItems(r.db.WithContext(ctx)).Where("owner_id = ?", ownerID), &cart)
}

// LockByOwner is GetByOwner with a row lock held until the surrounding transaction ends.
func (r *Repository) LockByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	query := withItems(r.db.WithContext(ctx)).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ?", ownerID)
	return firstOrNil(query, &cart)
}

// LockByID locks a live cart by id.
func (r *Repository) LockByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	query := withItems(r.db.WithContext(ctx)).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", cartID)
	return firstOrNil(query, &cart)
}

func (r *Repository) Exists(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error
	return count > 0, err
}

// Create inserts an empty cart. A unique violation means another request created it first.
func (r *Repository) Create(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error) {
	cart := models.Cart{OwnerID: ownerID, Version: 1}
	if err := r.db.WithContext(ctx).Omit("Items").Create(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetItem finds the live line for the (product, variant) pair.
func (r *Repository) GetItem(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID) (*models.CartItem, error) {
	query := r.db.WithContext(ctx).Where("cart_id = ? AND product_id = ?", cartID, productID)
	if variantID == nil {
		query = query.Where("variant_id IS NULL")
	} else {
		query = query.Where("variant_id = ?", *variantID)
	}
	var item models.CartItem
	err := query.First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindItem loads a live line by id, scoped to cartID.
func (r *Repository) FindItem(ctx context.Context, cartID, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) AddItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// UpdateItem persists quantity, snapshot price and modification time.
func (r *Repository) UpdateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ? AND cart_id = ?", item.ID, item.CartID).
		Updates(map[string]any{
			"quantity":    item.Quantity,
			"unit_price":  item.UnitPrice,
			"modified_at": item.ModifiedAt,
		}).Error
}

// RemoveItem soft-deletes one line and reports whether it existed.
func (r *Repository) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		Delete(&models.CartItem{})
	return res.RowsAffected > 0, res.Error
}

// Clear soft-deletes every line and reports whether anything was removed.
func (r *Repository) Clear(ctx context.Context, cartID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&models.CartItem{})
	return res.RowsAffected > 0, res.Error
}

func (r *Repository) liveItems(ctx context.Context, ownerID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Joins("JOIN carts ON carts.id = cart_items.cart_id AND carts.deleted_at IS NULL").
		Where("carts.owner_id = ?", ownerID)
}

// ItemCount sums the quantities of the owner's live lines.
func (r *Repository) ItemCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var total int64
	err := r.liveItems(ctx, ownerID).
		Select("COALESCE(SUM(cart_items.quantity), 0)").
		Scan(&total).Error
	return int(total), err
}

func (r *Repository) IsEmpty(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	var count int64
	err := r.liveItems(ctx, ownerID).Count(&count).Error
	return count == 0, err
}

// UpdateCheckoutDate sets checkout_date and bumps the version when the stored version
// still equals expectedVersion. It returns the new version or a Conflict error.
func (r *Repository) UpdateCheckoutDate(ctx context.Context, cartID uuid.UUID, expectedVersion int64, value *time.Time) (int64, error) {
	return r.compareAndBump(ctx, cartID, expectedVersion, map[string]any{"checkout_date": value})
}

// BumpVersion records a write to the cart without touching its checkout state.
func (r *Repository) BumpVersion(ctx context.Context, cartID uuid.UUID, expectedVersion int64) (int64, error) {
	return r.compareAndBump(ctx, cartID, expectedVersion, map[string]any{})
}

// Version reads the stored version of cartID.
func (r *Repository) Version(ctx context.Context, cartID uuid.UUID) (int64, error) {
	var cart models.Cart
	if err := r.db.WithContext(ctx).Select("version").Where("id = ?", cartID).Take(&cart).Error; err != nil {
		return 0, err
	}
	return cart.Version, nil
}

func (r *Repository) compareAndBump(ctx context.Context, cartID uuid.UUID, expectedVersion int64, changes map[string]any) (int64, error) {
	next := expectedVersion + 1
	changes["version"] = next
	changes["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND version = ?", cartID, expectedVersion).
		Updates(changes)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeConflict, "cart was modified concurrently")
	}
	return next, nil
}

// ConfirmedCursor marks the last cart of a ListCheckedOut page in (checkout_date, id) order.
type ConfirmedCursor struct {
	CheckoutDate time.Time
	ID           uuid.UUID
}

// CheckedOutQuery filters ListCheckedOut. Before keeps confirmations at or before the
// instant; After resumes strictly past the cursor.
type CheckedOutQuery struct {
	Before *time.Time
	After  *ConfirmedCursor
	Limit  int
}

// ListCheckedOut returns carts holding a checkout confirmation ordered by checkout date
// then id, oldest first.
func (r *Repository) ListCheckedOut(ctx context.Context, q CheckedOutQuery) ([]models.Cart, error) {
	query := withItems(r.db.WithContext(ctx)).Where("checkout_date IS NOT NULL")
	if q.Before != nil {
		query = query.Where("checkout_date <= ?", q.Before.UTC())
	}
	if q.After != nil {
		at := q.After.CheckoutDate.UTC()
		query = query.Where("(checkout_date > ? OR (checkout_date = ? AND id > ?))", at, at, q.After.ID)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	var carts []models.Cart
	if err := query.Order("checkout_date ASC").Order("id ASC").Find(&carts).Error; err != nil {
		return nil, err
	}
	return carts, nil
}

// NextConfirmedCursor points past the last cart of page, or returns nil for an empty page.
func NextConfirmedCursor(page []models.Cart) *ConfirmedCursor {
	if len(page) == 0 {
		return nil
	}
	last := page[len(page)-1]
	if last.CheckoutDate == nil {
		return nil
	}
	return &ConfirmedCursor{CheckoutDate: *last.CheckoutDate, ID: last.ID}
}
