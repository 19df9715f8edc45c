package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/redis"
	"github.com/google/uuid"
)

// IdempotencyManager tracks processed task IDs per consumer using Redis SETNX with a TTL.
// Keys follow the `sf:idempotency:task:processed:<consumer>:<task_id>` pattern.
type IdempotencyManager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyManager builds a guard that marks tasks as processed for the given TTL.
func NewIdempotencyManager(store redis.IdempotencyStore, ttl time.Duration) (*IdempotencyManager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &IdempotencyManager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed returns true if the task was already processed and otherwise marks it.
func (m *IdempotencyManager) CheckAndMarkProcessed(ctx context.Context, consumer string, taskID uuid.UUID) (bool, error) {
	key, err := m.processedKey(consumer, taskID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete forgets the processed marker so a redelivery runs again.
func (m *IdempotencyManager) Delete(ctx context.Context, consumer string, taskID uuid.UUID) error {
	key, err := m.processedKey(consumer, taskID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *IdempotencyManager) processedKey(consumer string, taskID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if taskID == uuid.Nil {
		return "", errors.New("task id is required")
	}
	scope := fmt.Sprintf("task:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, taskID.String()), nil
}
