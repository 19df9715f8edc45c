package orders

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	numberPrefix     = "ORD"
	numberCounterTTL = 48 * time.Hour
	numberSuffixMax  = 1_000_000
)

// Counter is the daily sequence backing order numbers. *redis.Client satisfies it.
type Counter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	CounterKey(name string) string
}

// NumberGenerator issues ORD-YYYYMMDD-NNNNNN numbers. Without a reachable counter the
// suffix is random and the unique index on order_number catches collisions.
type NumberGenerator struct {
	counter Counter
	logg    *logger.Logger
}

// NewNumberGenerator accepts a nil counter for deployments without redis.
func NewNumberGenerator(counter Counter, logg *logger.Logger) *NumberGenerator {
	return &NumberGenerator{counter: counter, logg: logg}
}

func (g *NumberGenerator) Next(ctx context.Context, now time.Time) string {
	day := now.UTC().Format("20060102")
	if g.counter != nil {
		seq, err := g.counter.IncrWithTTL(ctx, g.counter.CounterKey("orders:"+day), numberCounterTTL)
		if err == nil {
			return formatNumber(day, seq%numberSuffixMax)
		}
		if g.logg != nil {
			g.logg.Warn(g.logg.WithFields(ctx, map[string]any{"error": err.Error()}), "order number counter unavailable, using random suffix")
		}
	}
	return formatNumber(day, rand.Int64N(numberSuffixMax))
}

func formatNumber(day string, seq int64) string {
	return fmt.Sprintf("%s-%s-%06d", numberPrefix, day, seq)
}
