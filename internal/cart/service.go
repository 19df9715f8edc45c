package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultMaxQuantity = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ownerLookup interface {
	FindOwner(ctx context.Context, id uuid.UUID) (*models.Owner, error)
}

type catalogReader interface {
	FindProductIncludingDeleted(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindVariant(ctx context.Context, productID, variantID uuid.UUID) (*models.ProductVariant, error)
}

type tagEvicter interface {
	Evict(ctx context.Context, tags ...string)
}

// PriceSyncer prices a cart against the live catalog.
type PriceSyncer interface {
	Sync(ctx context.Context, cart *models.Cart) (*Projection, error)
}

// Service exposes owner-scoped cart operations.
type Service interface {
	GetCart(ctx context.Context, ownerID uuid.UUID) (*Projection, error)
	AddItem(ctx context.Context, ownerID uuid.UUID, input AddItemInput) (*Projection, error)
	UpdateItem(ctx context.Context, ownerID, itemID uuid.UUID, quantity int) (*Projection, error)
	RemoveItem(ctx context.Context, ownerID, itemID uuid.UUID) (*Projection, error)
	Clear(ctx context.Context, ownerID uuid.UUID) error
	ItemCount(ctx context.Context, ownerID uuid.UUID) (int, error)
	IsEmpty(ctx context.Context, ownerID uuid.UUID) (bool, error)
}

// AddItemInput identifies the line to add. Quantity is added to an existing line for the same pair.
type AddItemInput struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

// ServiceParams wires the cart service.
type ServiceParams struct {
	Repo        CartRepository
	Tx          txRunner
	Owners      ownerLookup
	Catalog     catalogReader
	Syncer      PriceSyncer
	Cache       cache.Store
	Evictions   tagEvicter
	Logger      *logger.Logger
	CacheTTL    time.Duration
	MaxQuantity int
	Now         func() time.Time
}

type service struct {
	repo        CartRepository
	tx          txRunner
	owners      ownerLookup
	catalog     catalogReader
	syncer      PriceSyncer
	cache       cache.Store
	evictions   tagEvicter
	logg        *logger.Logger
	cacheTTL    time.Duration
	maxQuantity int
	now         func() time.Time
}

// NewService builds a cart service backed by the provided stack.
func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("cart repository required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Owners == nil:
		return nil, fmt.Errorf("owner lookup required")
	case p.Catalog == nil:
		return nil, fmt.Errorf("catalog reader required")
	case p.Syncer == nil:
		return nil, fmt.Errorf("price syncer required")
	case p.Cache == nil:
		return nil, fmt.Errorf("cache store required")
	case p.Evictions == nil:
		return nil, fmt.Errorf("cache invalidator required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	maxQty := p.MaxQuantity
	if maxQty <= 0 {
		maxQty = DefaultMaxQuantity
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:        p.Repo,
		tx:          p.Tx,
		owners:      p.Owners,
		catalog:     p.Catalog,
		syncer:      p.Syncer,
		cache:       p.Cache,
		evictions:   p.Evictions,
		logg:        p.Logger,
		cacheTTL:    p.CacheTTL,
		maxQuantity: maxQty,
		now:         now,
	}, nil
}

func cacheKey(ownerID uuid.UUID) string {
	return cache.Key("cart", ownerID.String())
}

func (s *service) GetCart(ctx context.Context, ownerID uuid.UUID) (*Projection, error) {
	key := cacheKey(ownerID)
	var cached Projection
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()}), "cart cache read failed")
	} else if hit {
		return &cached, nil
	}

	cart, err := s.ensureCart(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	projection, err := s.syncer.Sync(ctx, cart)
	if err != nil {
		return nil, err
	}
	if !projection.Drifted {
		s.storeProjection(ctx, key, ownerID, projection)
	}
	return projection, nil
}

// storeProjection caches projection only while the stored cart is still at its version.
// The version is read again after the write and the entry dropped if it moved.
func (s *service) storeProjection(ctx context.Context, key string, ownerID uuid.UUID, projection *Projection) {
	if !s.versionCurrent(ctx, projection) {
		return
	}
	ttl := projection.CacheTTL(s.cacheTTL, s.now())
	if err := s.cache.Set(ctx, key, projection, ttl, projection.CacheTags()...); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()}), "cart cache write failed")
		return
	}
	if s.versionCurrent(ctx, projection) {
		return
	}
	if err := s.cache.RemoveByTags(ctx, cache.CartTag(ownerID.String())); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()}), "stale cart cache entry not removed")
	}
}

func (s *service) versionCurrent(ctx context.Context, projection *Projection) bool {
	current, err := s.repo.Version(ctx, projection.CartID)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"cart_id": projection.CartID.String(), "error": err.Error()}), "cart version read failed")
		return false
	}
	return current == projection.Version
}

func (s *service) AddItem(ctx context.Context, ownerID uuid.UUID, input AddItemInput) (*Projection, error) {
	if err := s.checkQuantity(input.Quantity); err != nil {
		return nil, err
	}
	product, err := s.loadPurchasable(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	variant, err := s.loadVariant(ctx, input.ProductID, input.VariantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = s.mutate(ctx, ownerID, func(repo CartRepository, cart *models.Cart) error {
		existing, err := repo.GetItem(ctx, cart.ID, input.ProductID, input.VariantID)
		if err != nil {
			return dependency(err, "load cart item")
		}
		quantity := input.Quantity
		if existing != nil {
			quantity += existing.Quantity
		}
		if err := s.checkQuantity(quantity); err != nil {
			return err
		}
		if err := checkStock(variant, quantity); err != nil {
			return err
		}
		if existing != nil {
			existing.Quantity = quantity
			existing.ModifiedAt = now
			return dependency(repo.UpdateItem(ctx, existing), "update cart item")
		}
		item := &models.CartItem{
			CartID:     cart.ID,
			ProductID:  input.ProductID,
			VariantID:  input.VariantID,
			Quantity:   quantity,
			UnitPrice:  catalog.EffectivePrice(*product, now),
			AddedAt:    now,
			ModifiedAt: now,
		}
		if err := repo.AddItem(ctx, item); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart line already exists")
			}
			return dependency(err, "add cart item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.project(ctx, ownerID)
}

func (s *service) UpdateItem(ctx context.Context, ownerID, itemID uuid.UUID, quantity int) (*Projection, error) {
	if err := s.checkQuantity(quantity); err != nil {
		return nil, err
	}
	current, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, dependency(err, "load cart")
	}
	line := findLine(current, itemID)
	if line == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	variant, err := s.loadVariant(ctx, line.ProductID, line.VariantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = s.mutate(ctx, ownerID, func(repo CartRepository, cart *models.Cart) error {
		item, err := repo.FindItem(ctx, cart.ID, itemID)
		if err != nil {
			return dependency(err, "load cart item")
		}
		if item == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		if err := checkStock(variant, quantity); err != nil {
			return err
		}
		item.Quantity = quantity
		item.ModifiedAt = now
		return dependency(repo.UpdateItem(ctx, item), "update cart item")
	})
	if err != nil {
		return nil, err
	}
	return s.project(ctx, ownerID)
}

func (s *service) RemoveItem(ctx context.Context, ownerID, itemID uuid.UUID) (*Projection, error) {
	err := s.mutate(ctx, ownerID, func(repo CartRepository, cart *models.Cart) error {
		removed, err := repo.RemoveItem(ctx, cart.ID, itemID)
		if err != nil {
			return dependency(err, "remove cart item")
		}
		if !removed {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.project(ctx, ownerID)
}

func (s *service) Clear(ctx context.Context, ownerID uuid.UUID) error {
	return s.mutate(ctx, ownerID, func(repo CartRepository, cart *models.Cart) error {
		_, err := repo.Clear(ctx, cart.ID)
		return dependency(err, "clear cart")
	})
}

func (s *service) ItemCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	count, err := s.repo.ItemCount(ctx, ownerID)
	if err != nil {
		return 0, dependency(err, "count cart items")
	}
	return count, nil
}

func (s *service) IsEmpty(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	empty, err := s.repo.IsEmpty(ctx, ownerID)
	if err != nil {
		return false, dependency(err, "check cart items")
	}
	return empty, nil
}

// ensureCart returns the owner's cart, creating it for a known owner. It runs outside any
// transaction so a lost creation race can re-read the winner.
func (s *service) ensureCart(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error) {
	cart, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, dependency(err, "load cart")
	}
	if cart != nil {
		return cart, nil
	}
	if _, err := s.owners.FindOwner(ctx, ownerID); err != nil {
		return nil, err
	}
	cart, err = s.repo.Create(ctx, ownerID)
	if err == nil {
		return cart, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, dependency(err, "create cart")
	}
	cart, err = s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, dependency(err, "load cart")
	}
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "cart creation raced with a delete")
	}
	return cart, nil
}

// mutate runs fn against the locked cart, then resets the checkout confirmation and bumps
// the version in the same transaction. The owner's cached projections are evicted after commit.
func (s *service) mutate(ctx context.Context, ownerID uuid.UUID, fn func(repo CartRepository, cart *models.Cart) error) error {
	if _, err := s.ensureCart(ctx, ownerID); err != nil {
		return err
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.LockByOwner(ctx, ownerID)
		if err != nil {
			return dependency(err, "lock cart")
		}
		if cart == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		if err := fn(repo, cart); err != nil {
			return err
		}
		_, err = repo.UpdateCheckoutDate(ctx, cart.ID, cart.Version, nil)
		return dependency(err, "update cart version")
	})
	if err != nil {
		return err
	}
	s.evict(ctx, ownerID)
	return nil
}

func (s *service) project(ctx context.Context, ownerID uuid.UUID) (*Projection, error) {
	cart, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, dependency(err, "load cart")
	}
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	return s.syncer.Sync(ctx, cart)
}

func (s *service) evict(ctx context.Context, ownerID uuid.UUID) {
	s.evictions.Evict(ctx, cache.CartTag(ownerID.String()))
}

func (s *service) checkQuantity(quantity int) error {
	if quantity < 1 || quantity > s.maxQuantity {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", s.maxQuantity))
	}
	return nil
}

func (s *service) loadPurchasable(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	product, err := s.catalog.FindProductIncludingDeleted(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, dependency(err, "load product")
	}
	if product.DeletedAt.Valid || !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "product is not available")
	}
	return product, nil
}

func (s *service) loadVariant(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*models.ProductVariant, error) {
	if variantID == nil {
		return nil, nil
	}
	variant, err := s.catalog.FindVariant(ctx, productID, *variantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product variant not found")
		}
		return nil, dependency(err, "load product variant")
	}
	return variant, nil
}

func checkStock(variant *models.ProductVariant, quantity int) error {
	if variant == nil || quantity <= variant.Quantity {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "requested quantity exceeds available stock").
		WithDetails(map[string]int{"available": variant.Quantity, "requested": quantity})
}

func findLine(cart *models.Cart, itemID uuid.UUID) *models.CartItem {
	if cart == nil {
		return nil
	}
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			return &cart.Items[i]
		}
	}
	return nil
}

// dependency wraps untyped failures as dependency errors and passes typed ones through.
func dependency(err error, message string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
