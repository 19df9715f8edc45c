package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

// Handler executes one task type.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, task Task) error

func (f HandlerFunc) Handle(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// ErrNoHandler is returned when a task type has no registered handler.
var ErrNoHandler = errors.New("no handler registered for task type")

// Dispatcher routes tasks to their handlers and records outcomes.
type Dispatcher struct {
	handlers map[enums.TaskType]Handler
	metrics  *metrics.TaskMetrics
	logg     *logger.Logger
}

// NewDispatcher builds an empty dispatcher.
func NewDispatcher(logg *logger.Logger, m *metrics.TaskMetrics) (*Dispatcher, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Dispatcher{
		handlers: make(map[enums.TaskType]Handler),
		metrics:  m,
		logg:     logg,
	}, nil
}

// Register binds a handler to a task type. Each type may be registered once.
func (d *Dispatcher) Register(taskType enums.TaskType, handler Handler) error {
	if !taskType.IsValid() {
		return fmt.Errorf("invalid task type %q", taskType)
	}
	if handler == nil {
		return fmt.Errorf("handler required for %s", taskType)
	}
	if _, exists := d.handlers[taskType]; exists {
		return fmt.Errorf("handler already registered for %s", taskType)
	}
	d.handlers[taskType] = handler
	return nil
}

// Types lists the registered task types in stable order.
func (d *Dispatcher) Types() []enums.TaskType {
	out := make([]enums.TaskType, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch runs the handler registered for task.Type.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) error {
	handler, ok := d.handlers[task.Type]
	if !ok {
		d.metrics.ObserveProcessed(task.Type.String(), metrics.TaskOutcomeSkipped, 0)
		return NewNonRetryableError(fmt.Errorf("%w: %s", ErrNoHandler, task.Type))
	}

	logCtx := d.logg.WithFields(ctx, map[string]any{
		"task_id":   task.ID.String(),
		"task_type": task.Type.String(),
	})

	start := time.Now()
	err := handler.Handle(logCtx, task)
	elapsed := time.Since(start)
	if err != nil {
		d.metrics.ObserveProcessed(task.Type.String(), metrics.TaskOutcomeFailure, elapsed)
		return err
	}
	d.metrics.ObserveProcessed(task.Type.String(), metrics.TaskOutcomeSuccess, elapsed)
	return nil
}
