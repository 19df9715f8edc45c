package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"go.uber.org/multierr"
)

type cartSyncer interface {
	Sync(ctx context.Context, c *models.Cart) (*cart.Projection, error)
}

type PriceDriftJobParams struct {
	Logger    *logger.Logger
	Carts     cart.CartRepository
	Syncer    cartSyncer
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// PriceDriftJob prices every confirmed cart so drift revokes a confirmation even when
// the owner never reads the cart again. Sync enqueues the reprice and clear tasks.
type PriceDriftJob struct {
	logg      *logger.Logger
	carts     cart.CartRepository
	syncer    cartSyncer
	metrics   *metrics.CronJobMetrics
	batchSize int
}

func NewPriceDriftJob(params PriceDriftJobParams) (*PriceDriftJob, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Carts == nil:
		return nil, errors.New("cart repository required")
	case params.Syncer == nil:
		return nil, errors.New("price syncer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &PriceDriftJob{
		logg:      params.Logger,
		carts:     params.Carts,
		syncer:    params.Syncer,
		metrics:   params.Metrics,
		batchSize: batch,
	}, nil
}

func (j *PriceDriftJob) Name() string { return "price-drift-sweep" }

// Run walks every confirmed cart page by page, resuming each page after the last cart
// of the previous one.
func (j *PriceDriftJob) Run(ctx context.Context) error {
	var (
		errs    error
		after   *cart.ConfirmedCursor
		scanned int
		drifted int
		failed  int
	)
	for {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		page, err := j.carts.ListCheckedOut(ctx, cart.CheckedOutQuery{After: after, Limit: j.batchSize})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("list confirmed carts: %w", err))
			break
		}
		scanned += len(page)
		for i := range page {
			projection, err := j.syncer.Sync(ctx, &page[i])
			if err != nil {
				failed++
				errs = multierr.Append(errs, fmt.Errorf("cart %s: %w", page[i].ID, err))
				continue
			}
			if projection.Drifted {
				drifted++
			}
		}
		after = cart.NextConfirmedCursor(page)
		if len(page) < j.batchSize || after == nil {
			break
		}
	}

	j.metrics.AddItems(j.Name(), metrics.CronItemScanned, scanned)
	j.metrics.AddItems(j.Name(), metrics.CronItemDrifted, drifted)
	j.metrics.AddItems(j.Name(), metrics.CronItemFailed, failed)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"scanned": scanned,
		"drifted": drifted,
		"failed":  failed,
	}), "price drift sweep finished")
	return errs
}
