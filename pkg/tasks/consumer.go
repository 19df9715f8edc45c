package tasks

import (
	"context"
	"encoding/json"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// ConsumerName scopes idempotency markers written by the task worker.
const ConsumerName = "storefront-tasks"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// ErrorReporter forwards handler failures to an alerting channel.
type ErrorReporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

// Consumer pulls tasks from the Pub/Sub subscription and dispatches them once per task id.
type Consumer struct {
	subscription receiver
	dispatcher   *Dispatcher
	idempotency  *IdempotencyManager
	reporter     ErrorReporter
	logg         *logger.Logger
}

// NewConsumer builds the worker-side task consumer.
func NewConsumer(subscription *gcppubsub.Subscriber, dispatcher *Dispatcher, manager *IdempotencyManager, reporter ErrorReporter, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("tasks subscription required")
	}
	return newConsumer(subscription, dispatcher, manager, reporter, logg)
}

func newConsumer(subscription receiver, dispatcher *Dispatcher, manager *IdempotencyManager, reporter ErrorReporter, logg *logger.Logger) (*Consumer, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Consumer{
		subscription: subscription,
		dispatcher:   dispatcher,
		idempotency:  manager,
		reporter:     reporter,
		logg:         logg,
	}, nil
}

// Run starts the receive loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	fields := map[string]any{
		"message_id": msg.ID,
		"task_type":  msg.Attributes[AttrTaskType],
		"task_id":    msg.Attributes[AttrTaskID],
	}
	logCtx := c.logg.WithFields(ctx, fields)

	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		c.logg.Error(logCtx, "failed to decode task", err)
		return processResult{ack: true}
	}
	if !task.Type.IsValid() {
		c.logg.Warn(logCtx, "skipping unknown task type")
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, ConsumerName, task.ID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "task already processed")
		return processResult{ack: true}
	}

	if err := c.dispatcher.Dispatch(ctx, task); err != nil {
		c.report(logCtx, err, fields)
		if IsNonRetryable(err) {
			c.logg.Error(logCtx, "task failed permanently", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "task failed, scheduling redelivery", err)
		_ = c.idempotency.Delete(ctx, ConsumerName, task.ID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}

func (c *Consumer) report(ctx context.Context, err error, fields map[string]any) {
	if c.reporter == nil {
		return
	}
	c.reporter.Report(ctx, err, fields)
}
