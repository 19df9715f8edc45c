package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/auditlog"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxNumberAttempts = 3

var errNumberTaken = errors.New("order number already taken")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentRegistry interface {
	GetMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*models.PaymentProvider, error)
}

type numberSource interface {
	Next(ctx context.Context, now time.Time) string
}

type tagEvicter interface {
	Evict(ctx context.Context, tags ...string)
	Enqueue(ctx context.Context, tags ...string)
}

// Service converts checked-out carts into orders and manages their lifecycle.
type Service interface {
	CreateOrder(ctx context.Context, ownerID uuid.UUID, input CreateOrderInput) (*OrderView, error)
	GetOrder(ctx context.Context, ownerID, orderID uuid.UUID) (*OrderView, error)
	ListOrders(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (*pagination.Page[OrderView], error)
	CancelOrder(ctx context.Context, ownerID, orderID uuid.UUID) (*OrderView, error)
	TransitionStatus(ctx context.Context, actorID, orderID uuid.UUID, input TransitionInput) (*OrderView, error)
}

type ServiceParams struct {
	Tx          txRunner
	Repo        Repository
	Carts       cart.CartRepository
	Payments    paymentRegistry
	Audit       auditlog.Recorder
	Numbers     numberSource
	Cache       cache.Store
	Evictions   tagEvicter
	Logger      *logger.Logger
	Window      time.Duration
	StrictAudit bool
	CacheTTL    time.Duration
	Now         func() time.Time
}

type service struct {
	tx          txRunner
	repo        Repository
	carts       cart.CartRepository
	payments    paymentRegistry
	audit       auditlog.Recorder
	numbers     numberSource
	cache       cache.Store
	evictions   tagEvicter
	logg        *logger.Logger
	window      time.Duration
	strictAudit bool
	cacheTTL    time.Duration
	now         func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case p.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case p.Payments == nil:
		return nil, fmt.Errorf("payment registry required")
	case p.Audit == nil:
		return nil, fmt.Errorf("audit recorder required")
	case p.Numbers == nil:
		return nil, fmt.Errorf("order number source required")
	case p.Cache == nil:
		return nil, fmt.Errorf("cache store required")
	case p.Evictions == nil:
		return nil, fmt.Errorf("cache invalidator required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	window := p.Window
	if window <= 0 {
		window = checkout.DefaultWindow
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:          p.Tx,
		repo:        p.Repo,
		carts:       p.Carts,
		payments:    p.Payments,
		audit:       p.Audit,
		numbers:     p.Numbers,
		cache:       p.Cache,
		evictions:   p.Evictions,
		logg:        p.Logger,
		window:      window,
		strictAudit: p.StrictAudit,
		cacheTTL:    p.CacheTTL,
		now:         now,
	}, nil
}

// CreateOrder turns the owner's confirmed cart into an order priced at the cart snapshot.
func (s *service) CreateOrder(ctx context.Context, ownerID uuid.UUID, input CreateOrderInput) (*OrderView, error) {
	now := s.now().UTC()
	if err := s.checkPreconditions(ctx, ownerID, input, now); err != nil {
		return nil, err
	}

	var (
		order *models.Order
		err   error
	)
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		order, err = s.convert(ctx, ownerID, input, now)
		if !errors.Is(err, errNumberTaken) {
			break
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"owner_id": ownerID.String(),
			"attempt":  attempt,
		}), "order number collision, retrying")
	}
	if errors.Is(err, errNumberTaken) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate an order number")
	}
	if err != nil {
		return nil, err
	}

	s.evictions.Enqueue(ctx, cache.CartTag(ownerID.String()), cache.OrdersTag(ownerID.String()))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
		"total":        order.Total.StringFixed(2),
	}), "order created")
	return toView(order), nil
}

func (s *service) checkPreconditions(ctx context.Context, ownerID uuid.UUID, input CreateOrderInput, now time.Time) error {
	current, err := s.carts.GetByOwner(ctx, ownerID)
	if err != nil {
		return dependency(err, "load cart")
	}
	if err := requireItems(current); err != nil {
		return err
	}
	if err := checkout.Validate(current, now, s.window); err != nil {
		return err
	}
	if _, err := s.payments.GetMethod(ctx, input.PaymentMethodID); err != nil {
		return err
	}
	provider, err := s.payments.GetProvider(ctx, input.PaymentProviderID)
	if err != nil {
		return err
	}
	if !provider.IsActive {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "payment provider is not active")
	}
	charges := []struct {
		field  string
		amount decimal.Decimal
	}{
		{"tax", input.Tax},
		{"shipping", input.Shipping},
		{"discount", input.Discount},
	}
	for _, charge := range charges {
		if charge.amount.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, charge.field+" must not be negative")
		}
	}
	return nil
}

// convert runs one attempt of the conversion unit of work.
func (s *service) convert(ctx context.Context, ownerID uuid.UUID, input CreateOrderInput, now time.Time) (*models.Order, error) {
	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		carts := s.carts.WithTx(tx)
		repo := s.repo.WithTx(tx)

		locked, err := carts.LockByOwner(ctx, ownerID)
		if err != nil {
			return dependency(err, "lock cart")
		}
		if err := requireItems(locked); err != nil {
			return err
		}
		if err := checkout.Validate(locked, now, s.window); err != nil {
			return err
		}

		subtotal := decimal.Zero
		for _, line := range locked.Items {
			subtotal = subtotal.Add(line.LineTotal())
		}
		tax := input.Tax.Round(2)
		shipping := input.Shipping.Round(2)
		discount := input.Discount.Round(2)
		total := subtotal.Add(tax).Add(shipping).Sub(discount).Round(2)
		if total.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "order total must not be negative")
		}

		order := &models.Order{
			OrderNumber:    s.numbers.Next(ctx, now),
			OwnerID:        ownerID,
			CartID:         locked.ID,
			Status:         enums.OrderStatusPending,
			Subtotal:       subtotal.Round(2),
			TaxAmount:      tax,
			ShippingCost:   shipping,
			DiscountAmount: discount,
			Total:          total,
			Notes:          input.Notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			if isOrderNumberTaken(err) {
				return fmt.Errorf("%w: %s", errNumberTaken, order.OrderNumber)
			}
			return dependency(err, "create order")
		}

		items := make([]models.OrderItem, 0, len(locked.Items))
		for i, line := range locked.Items {
			items = append(items, models.OrderItem{
				OrderID:    order.ID,
				ProductID:  line.ProductID,
				VariantID:  line.VariantID,
				Position:   i + 1,
				Quantity:   line.Quantity,
				UnitPrice:  line.UnitPrice,
				TotalPrice: line.LineTotal(),
				OrderedAt:  now,
			})
		}
		if err := repo.CreateItems(ctx, items); err != nil {
			return dependency(err, "create order items")
		}

		payment := &models.Payment{
			OrderID:    order.ID,
			MethodID:   input.PaymentMethodID,
			ProviderID: input.PaymentProviderID,
			Amount:     order.Total,
			Status:     enums.PaymentStatusPending,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return dependency(err, "create payment")
		}

		if _, err := carts.Clear(ctx, locked.ID); err != nil {
			return dependency(err, "clear cart")
		}
		if _, err := carts.UpdateCheckoutDate(ctx, locked.ID, locked.Version, nil); err != nil {
			return dependency(err, "reset cart checkout")
		}

		entry := auditlog.Entry{
			Description: fmt.Sprintf("order %s created from cart %s", order.OrderNumber, locked.ID),
			Kind:        enums.OperationOrderCreated,
			ActorID:     ownerID,
			SubjectID:   order.ID,
		}
		if err := s.recordAudit(ctx, tx, entry); err != nil {
			return err
		}

		order.Items = items
		order.Payment = payment
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) GetOrder(ctx context.Context, ownerID, orderID uuid.UUID) (*OrderView, error) {
	key := cache.Key("order", ownerID.String(), orderID.String())
	var cached OrderView
	if s.readCache(ctx, key, &cached) {
		return &cached, nil
	}

	order, err := s.repo.FindForOwner(ctx, ownerID, orderID)
	if err != nil {
		return nil, lookupError(err)
	}
	view := toView(order)
	s.writeCache(ctx, key, view, ownerID)
	return view, nil
}

func (s *service) ListOrders(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (*pagination.Page[OrderView], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	key := cache.Key("orders", ownerID.String(), "list", strconv.Itoa(limit), params.Cursor)

	var cached pagination.Page[OrderView]
	if s.readCache(ctx, key, &cached) {
		return &cached, nil
	}

	rows, err := s.repo.ListByOwner(ctx, ownerID, cursor, limit)
	if err != nil {
		return nil, dependency(err, "list orders")
	}
	views := make([]OrderView, 0, len(rows))
	for i := range rows {
		views = append(views, *toView(&rows[i]))
	}
	page := pagination.Paginate(views, limit, func(v OrderView) pagination.Cursor {
		return pagination.Cursor{CreatedAt: v.CreatedAt, ID: v.ID}
	})
	s.writeCache(ctx, key, page, ownerID)
	return &page, nil
}

// CancelOrder lets an owner cancel one of their orders while it is still pending.
func (s *service) CancelOrder(ctx context.Context, ownerID, orderID uuid.UUID) (*OrderView, error) {
	guard := func(order *models.Order) error {
		if order.OwnerID != ownerID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "only pending orders can be cancelled")
		}
		return nil
	}
	return s.transition(ctx, ownerID, orderID, TransitionInput{Status: enums.OrderStatusCancelled}, guard)
}

func (s *service) TransitionStatus(ctx context.Context, actorID, orderID uuid.UUID, input TransitionInput) (*OrderView, error) {
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	return s.transition(ctx, actorID, orderID, input, nil)
}

func (s *service) transition(ctx context.Context, actorID, orderID uuid.UUID, input TransitionInput, guard func(*models.Order) error) (*OrderView, error) {
	now := s.now().UTC()
	var ownerID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return lookupError(err)
		}
		if guard != nil {
			if err := guard(order); err != nil {
				return err
			}
		}
		if !order.Status.CanTransitionTo(input.Status) {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "order status transition not allowed").
				WithDetails(map[string]string{"from": order.Status.String(), "to": input.Status.String()})
		}

		update := StatusUpdate{Status: input.Status, Notes: input.Notes, UpdatedAt: now}
		switch input.Status {
		case enums.OrderStatusShipped:
			update.ShippedAt = &now
		case enums.OrderStatusDelivered:
			update.DeliveredAt = &now
		case enums.OrderStatusCancelled:
			update.CancelledAt = &now
		}
		applied, err := repo.UpdateStatus(ctx, order.ID, order.Status, update)
		if err != nil {
			return dependency(err, "update order status")
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeConflict, "order status changed concurrently")
		}

		entry := auditlog.Entry{
			Description: fmt.Sprintf("order %s moved from %s to %s", order.OrderNumber, order.Status, input.Status),
			Kind:        enums.OperationOrderStatusChanged,
			ActorID:     actorID,
			SubjectID:   order.ID,
		}
		if err := s.recordAudit(ctx, tx, entry); err != nil {
			return err
		}
		ownerID = order.OwnerID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.evictions.Evict(ctx, cache.OrdersTag(ownerID.String()))

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err)
	}
	return toView(order), nil
}

// recordAudit fails the transaction in strict mode or when the failed write could not be
// isolated; otherwise the failure is logged and discarded.
func (s *service) recordAudit(ctx context.Context, tx *gorm.DB, entry auditlog.Entry) error {
	if s.strictAudit {
		if err := s.audit.RecordOperation(ctx, tx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit log")
		}
		return nil
	}
	if err := auditlog.RecordIsolated(ctx, s.audit, tx, entry); err != nil {
		if errors.Is(err, auditlog.ErrTxAborted) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "audit write aborted the order transaction")
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"subject_id": entry.SubjectID.String(),
			"kind":       entry.Kind.String(),
			"error":      err.Error(),
		}), "order audit record failed")
	}
	return nil
}

func (s *service) readCache(ctx context.Context, key string, dest any) bool {
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()}), "order cache read failed")
		return false
	}
	return hit
}

func (s *service) writeCache(ctx context.Context, key string, value any, ownerID uuid.UUID) {
	if err := s.cache.Set(ctx, key, value, s.cacheTTL, cache.OrdersTag(ownerID.String())); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()}), "order cache write failed")
	}
}

func requireItems(c *models.Cart) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if len(c.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "cart is empty")
	}
	return nil
}

func lookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return dependency(err, "load order")
}

func dependency(err error, message string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
