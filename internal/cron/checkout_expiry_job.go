package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const defaultBatchSize = 200

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type checkoutInvalidator interface {
	Invalidate(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error
}

type tagEvicter interface {
	Evict(ctx context.Context, tags ...string)
}

type CheckoutExpiryJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Carts     cart.CartRepository
	Checkout  checkoutInvalidator
	Evictions tagEvicter
	Metrics   *metrics.CronJobMetrics
	Window    time.Duration
	BatchSize int
	Now       func() time.Time
}

// CheckoutExpiryJob clears checkout confirmations older than the checkout window so
// stale carts stop advertising a confirmed state.
type CheckoutExpiryJob struct {
	logg      *logger.Logger
	db        txRunner
	carts     cart.CartRepository
	checkout  checkoutInvalidator
	evictions tagEvicter
	metrics   *metrics.CronJobMetrics
	window    time.Duration
	batchSize int
	now       func() time.Time
}

func NewCheckoutExpiryJob(params CheckoutExpiryJobParams) (*CheckoutExpiryJob, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("transaction runner required")
	case params.Carts == nil:
		return nil, errors.New("cart repository required")
	case params.Checkout == nil:
		return nil, errors.New("checkout service required")
	case params.Evictions == nil:
		return nil, errors.New("cache invalidator required")
	}
	window := params.Window
	if window <= 0 {
		window = checkout.DefaultWindow
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &CheckoutExpiryJob{
		logg:      params.Logger,
		db:        params.DB,
		carts:     params.Carts,
		checkout:  params.Checkout,
		evictions: params.Evictions,
		metrics:   params.Metrics,
		window:    window,
		batchSize: batch,
		now:       now,
	}, nil
}

func (j *CheckoutExpiryJob) Name() string { return "checkout-expiry" }

// Run handles one batch of expired carts; the remainder is picked up on the next cycle.
func (j *CheckoutExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.window)
	carts, err := j.carts.ListCheckedOut(ctx, cart.CheckedOutQuery{Before: &cutoff, Limit: j.batchSize})
	if err != nil {
		return fmt.Errorf("list expired checkouts: %w", err)
	}

	var errs error
	cleared, failed := 0, 0
	for i := range carts {
		ok, err := j.expire(ctx, carts[i].ID, now)
		if err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("cart %s: %w", carts[i].ID, err))
			continue
		}
		if ok {
			cleared++
			j.evictions.Evict(ctx, cache.CartTag(carts[i].OwnerID.String()))
		}
	}

	j.metrics.AddItems(j.Name(), metrics.CronItemScanned, len(carts))
	j.metrics.AddItems(j.Name(), metrics.CronItemCleared, cleared)
	j.metrics.AddItems(j.Name(), metrics.CronItemFailed, failed)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"scanned": len(carts),
		"cleared": cleared,
		"failed":  failed,
	}), "checkout expiry sweep finished")
	return errs
}

// expire rechecks the locked row so a cart confirmed again since the listing is kept.
func (j *CheckoutExpiryJob) expire(ctx context.Context, cartID uuid.UUID, now time.Time) (bool, error) {
	cleared := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := j.carts.WithTx(tx).LockByID(ctx, cartID)
		if err != nil {
			return err
		}
		if locked == nil || !expired(locked, now, j.window) {
			return nil
		}
		if err := j.checkout.Invalidate(ctx, tx, cartID); err != nil {
			return err
		}
		cleared = true
		return nil
	})
	return cleared, err
}

func expired(c *models.Cart, now time.Time, window time.Duration) bool {
	return c.CheckoutDate != nil && checkout.Validate(c, now, window) != nil
}
