package cache

import (
	"context"
	"errors"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/tasks"
)

// EvictPayload is the body of a cache.evict task.
type EvictPayload struct {
	Tags []string `json:"tags"`
}

// Invalidator evicts cache tags, either right away against the store or deferred
// through the background task queue.
type Invalidator struct {
	queue tasks.Queue
	store Store
	logg  *logger.Logger
}

// NewInvalidator builds an invalidator. store may be nil, in which case Evict always defers.
func NewInvalidator(queue tasks.Queue, store Store, logg *logger.Logger) (*Invalidator, error) {
	if queue == nil {
		return nil, errors.New("task queue required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Invalidator{queue: queue, store: store, logg: logg}, nil
}

// Evict removes tags from the store now and defers them to the queue if that fails.
func (i *Invalidator) Evict(ctx context.Context, tags ...string) {
	clean := nonBlank(tags)
	if len(clean) == 0 {
		return
	}
	if i.store != nil {
		err := i.store.RemoveByTags(ctx, clean...)
		if err == nil {
			return
		}
		i.logg.Warn(i.logg.WithFields(ctx, map[string]any{"tags": clean, "error": err.Error()}), "cache eviction failed, deferring")
	}
	tasks.Submit(ctx, i.queue, i.logg, enums.TaskCacheEvict, EvictPayload{Tags: clean})
}

// Enqueue schedules eviction of tags. Queue failures are logged, never returned.
func (i *Invalidator) Enqueue(ctx context.Context, tags ...string) {
	clean := nonBlank(tags)
	if len(clean) == 0 {
		return
	}
	tasks.Submit(ctx, i.queue, i.logg, enums.TaskCacheEvict, EvictPayload{Tags: clean})
}

func nonBlank(tags []string) []string {
	clean := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag != "" {
			clean = append(clean, tag)
		}
	}
	return clean
}

// EvictHandler executes cache.evict tasks.
type EvictHandler struct {
	store Store
}

func NewEvictHandler(store Store) (*EvictHandler, error) {
	if store == nil {
		return nil, errors.New("cache store required")
	}
	return &EvictHandler{store: store}, nil
}

func (h *EvictHandler) Handle(ctx context.Context, task tasks.Task) error {
	var payload EvictPayload
	if err := task.Decode(&payload); err != nil {
		return err
	}
	return h.store.RemoveByTags(ctx, payload.Tags...)
}
