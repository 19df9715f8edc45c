package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	localMaxAttempts  = 3
	localRetryBackoff = 200 * time.Millisecond
)

var (
	// ErrQueueFull is returned when the in-process buffer has no room.
	ErrQueueFull = errors.New("task queue is full")
	// ErrQueueClosed is returned after Run has exited.
	ErrQueueClosed = errors.New("task queue is closed")
)

// LocalQueue runs tasks on an in-process worker pool. It backs dev and sqlite setups
// where no Pub/Sub topic is available.
type LocalQueue struct {
	dispatcher *Dispatcher
	logg       *logger.Logger
	metrics    *metrics.TaskMetrics
	workers    int
	buffer     chan Task

	mu     sync.RWMutex
	closed bool
}

// NewLocalQueue builds a worker pool with the given size and buffer capacity.
func NewLocalQueue(dispatcher *Dispatcher, workers, bufferSize int, logg *logger.Logger, m *metrics.TaskMetrics) (*LocalQueue, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if workers <= 0 {
		workers = 1
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &LocalQueue{
		dispatcher: dispatcher,
		logg:       logg,
		metrics:    m,
		workers:    workers,
		buffer:     make(chan Task, bufferSize),
	}, nil
}

// Enqueue buffers the task without waiting for a worker.
func (q *LocalQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.buffer <- task:
		q.metrics.IncEnqueued(task.Type.String())
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes buffered tasks until ctx is canceled, then drains what is left.
func (q *LocalQueue) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case task := <-q.buffer:
					q.process(groupCtx, task)
				}
			}
		})
	}
	err := group.Wait()

	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.drain()
	return err
}

func (q *LocalQueue) drain() {
	ctx := context.Background()
	for {
		select {
		case task := <-q.buffer:
			q.process(ctx, task)
		default:
			return
		}
	}
}

func (q *LocalQueue) process(ctx context.Context, task Task) {
	logCtx := q.logg.WithFields(ctx, map[string]any{
		"task_id":   task.ID.String(),
		"task_type": task.Type.String(),
	})
	for attempt := 1; attempt <= localMaxAttempts; attempt++ {
		err := q.dispatcher.Dispatch(ctx, task)
		if err == nil {
			return
		}
		if IsNonRetryable(err) || attempt == localMaxAttempts {
			q.logg.Error(logCtx, "background task failed", err)
			return
		}
		q.logg.Warn(q.logg.WithField(logCtx, "attempt", attempt), "background task failed, retrying")
		select {
		case <-ctx.Done():
			q.logg.Error(logCtx, "background task abandoned on shutdown", err)
			return
		case <-time.After(localRetryBackoff * time.Duration(attempt)):
		}
	}
}
