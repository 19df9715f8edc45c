package catalog

import (
	"context"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads catalog entities. Soft-deleted rows are excluded by GORM's default scope.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func preloadCatalog(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Variants").
		Preload("Discounts", func(q *gorm.DB) *gorm.DB {
			return q.Order("start_date ASC")
		})
}

// FindProduct loads a product with its variants and discounts.
func (r *Repository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := preloadCatalog(r.db.WithContext(ctx)).
		Where("id = ?", id).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// FindProducts loads the requested products keyed by id. Missing or deleted ids are absent.
func (r *Repository) FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := preloadCatalog(r.db.WithContext(ctx)).
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// FindVariant loads a variant that belongs to productID.
func (r *Repository) FindVariant(ctx context.Context, productID, variantID uuid.UUID) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("id = ? AND product_id = ?", variantID, productID).
		First(&variant).Error
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

// FindProductIncludingDeleted loads a product even when soft-deleted so callers can tell
// a retired product apart from an unknown id.
func (r *Repository) FindProductIncludingDeleted(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := preloadCatalog(r.db.WithContext(ctx)).
		Unscoped().
		Where("id = ?", id).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}
