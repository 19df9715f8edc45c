package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/auditlog"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productReader interface {
	FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type tagEvicter interface {
	Evict(ctx context.Context, tags ...string)
}

// Service gates conversion of a cart into an order.
type Service interface {
	Confirm(ctx context.Context, ownerID uuid.UUID) (*Confirmation, error)
	Invalidate(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error
	Validate(c *models.Cart, now time.Time) error
}

// Confirmation reports a successful checkout.
type Confirmation struct {
	CartID        uuid.UUID  `json:"cartId"`
	CheckoutDate  time.Time  `json:"checkoutDate"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	Version       int64      `json:"version"`
	RepricedItems int        `json:"repricedItems"`
	Items         []LineInfo `json:"items"`
}

type LineInfo struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unitPrice"`
}

type ServiceParams struct {
	Tx        txRunner
	Carts     cart.CartRepository
	Products  productReader
	Audit     auditlog.Recorder
	Evictions tagEvicter
	Logger    *logger.Logger
	Window    time.Duration
	Now       func() time.Time
}

type service struct {
	tx        txRunner
	carts     cart.CartRepository
	products  productReader
	audit     auditlog.Recorder
	evictions tagEvicter
	logg      *logger.Logger
	window    time.Duration
	now       func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case p.Products == nil:
		return nil, fmt.Errorf("product reader required")
	case p.Audit == nil:
		return nil, fmt.Errorf("audit recorder required")
	case p.Evictions == nil:
		return nil, fmt.Errorf("cache invalidator required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	window := p.Window
	if window <= 0 {
		window = DefaultWindow
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:        p.Tx,
		carts:     p.Carts,
		products:  p.Products,
		audit:     p.Audit,
		evictions: p.Evictions,
		logg:      p.Logger,
		window:    window,
		now:       now,
	}, nil
}

// Confirm stamps the checkout date on a non-empty cart. Drifted snapshots are brought to
// the live price in the same transaction, so the confirmed prices are the ones an order
// will charge.
func (s *service) Confirm(ctx context.Context, ownerID uuid.UUID) (*Confirmation, error) {
	now := s.now().UTC()
	var result *Confirmation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.carts.WithTx(tx)
		locked, err := repo.LockByOwner(ctx, ownerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock cart")
		}
		if locked == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		if len(locked.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "cart is empty")
		}

		products, err := s.products.FindProducts(ctx, productIDs(locked.Items))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart products")
		}
		repriced := 0
		lines := make([]LineInfo, 0, len(locked.Items))
		for i := range locked.Items {
			item := &locked.Items[i]
			product, ok := products[item.ProductID]
			if !ok || !product.IsActive {
				return pkgerrors.New(pkgerrors.CodeInvalidState, "cart contains unavailable products").
					WithDetails(map[string]string{"itemId": item.ID.String()})
			}
			price := catalog.EffectivePrice(product, now)
			if !price.Equal(item.UnitPrice) {
				item.UnitPrice = price
				item.ModifiedAt = now
				if err := repo.UpdateItem(ctx, item); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh cart item price")
				}
				repriced++
			}
			lines = append(lines, LineInfo{
				ID:        item.ID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice.StringFixed(2),
			})
		}

		version, err := repo.UpdateCheckoutDate(ctx, locked.ID, locked.Version, &now)
		if err != nil {
			return err
		}

		entry := auditlog.Entry{
			Description: fmt.Sprintf("checkout confirmed for cart %s", locked.ID),
			Kind:        enums.OperationCheckoutConfirmed,
			ActorID:     ownerID,
			SubjectID:   locked.ID,
		}
		if err := auditlog.RecordIsolated(ctx, s.audit, tx, entry); err != nil {
			if errors.Is(err, auditlog.ErrTxAborted) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "audit write aborted the checkout transaction")
			}
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"cart_id": locked.ID.String(), "error": err.Error()}), "checkout audit record failed")
		}

		result = &Confirmation{
			CartID:        locked.ID,
			CheckoutDate:  now,
			ExpiresAt:     now.Add(s.window),
			Version:       version,
			RepricedItems: repriced,
			Items:         lines,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.evictions.Evict(ctx, cache.CartTag(ownerID.String()))
	return result, nil
}

// Invalidate clears the checkout confirmation of cartID inside tx.
func (s *service) Invalidate(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error {
	repo := s.carts.WithTx(tx)
	locked, err := repo.LockByID(ctx, cartID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock cart")
	}
	if locked == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if locked.CheckoutDate == nil {
		return nil
	}
	_, err = repo.UpdateCheckoutDate(ctx, locked.ID, locked.Version, nil)
	return err
}

func (s *service) Validate(c *models.Cart, now time.Time) error {
	return Validate(c, now, s.window)
}

func productIDs(items []models.CartItem) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; !ok {
			seen[item.ProductID] = struct{}{}
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}
