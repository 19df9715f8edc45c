package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/google/uuid"
)

// Task is a deferred unit of work. Handlers must tolerate duplicate and late delivery.
type Task struct {
	ID         uuid.UUID       `json:"id"`
	Type       enums.TaskType  `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Queue hands tasks to a backend. Delivery is at-least-once and Enqueue never waits for execution.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
}

// New builds a task with a fresh id and the JSON-encoded payload.
func New(taskType enums.TaskType, payload any) (Task, error) {
	if !taskType.IsValid() {
		return Task{}, fmt.Errorf("invalid task type %q", taskType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", taskType, err)
	}
	return Task{
		ID:         uuid.New(),
		Type:       taskType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into dest. Malformed payloads are never retried.
func (t Task) Decode(dest any) error {
	if err := json.Unmarshal(t.Payload, dest); err != nil {
		return NewNonRetryableError(fmt.Errorf("decode %s payload: %w", t.Type, err))
	}
	return nil
}

// Submit builds and enqueues a task, logging failures instead of returning them.
// Request paths use it so a queue outage never fails the request.
func Submit(ctx context.Context, q Queue, logg *logger.Logger, taskType enums.TaskType, payload any) {
	task, err := New(taskType, payload)
	if err == nil {
		if q == nil {
			err = errors.New("task queue not configured")
		} else {
			err = q.Enqueue(ctx, task)
		}
	}
	if err != nil && logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"task_type": taskType.String(),
			"error":     err.Error(),
		})
		logg.Warn(logCtx, "failed to enqueue background task")
	}
}

// NonRetryableError marks a failure that redelivery cannot fix.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps err so consumers acknowledge instead of redelivering.
func NewNonRetryableError(err error) error {
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was marked non-retryable.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}
