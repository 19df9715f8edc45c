package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const (
	AttrTaskType   = "task_type"
	AttrTaskID     = "task_id"
	AttrEnqueuedAt = "enqueued_at"

	defaultPublishTimeout = 10 * time.Second
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubQueue publishes tasks to a Pub/Sub topic consumed by cmd/worker.
type PubSubQueue struct {
	pub     publisher
	metrics *metrics.TaskMetrics
}

// NewPubSubQueue wraps the tasks topic publisher.
func NewPubSubQueue(p *gcppubsub.Publisher, m *metrics.TaskMetrics) (*PubSubQueue, error) {
	if p == nil {
		return nil, errors.New("tasks publisher required")
	}
	return &PubSubQueue{pub: &gcpPublisher{Publisher: p}, metrics: m}, nil
}

// Enqueue publishes the task and waits only for the broker acknowledgement.
func (q *PubSubQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrTaskType:   task.Type.String(),
			AttrTaskID:     task.ID.String(),
			AttrEnqueuedAt: task.EnqueuedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := q.pub.Publish(publishCtx, msg)
	if result == nil {
		return fmt.Errorf("publisher returned nil for task %s", task.Type)
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish task %s: %w", task.Type, err)
	}
	q.metrics.IncEnqueued(task.Type.String())
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
