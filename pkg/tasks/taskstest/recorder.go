// Package taskstest records enqueued tasks so tests can assert on them or run them inline.
package taskstest

import (
	"context"
	"sync"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/tasks"
)

// Recorder is a tasks.Queue that keeps every task in memory.
type Recorder struct {
	mu    sync.Mutex
	tasks []tasks.Task
	Err   error
}

func (r *Recorder) Enqueue(_ context.Context, task tasks.Task) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

// Tasks returns a copy of the recorded tasks.
func (r *Recorder) Tasks() []tasks.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tasks.Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// OfType returns the recorded tasks of one type.
func (r *Recorder) OfType(taskType enums.TaskType) []tasks.Task {
	var out []tasks.Task
	for _, task := range r.Tasks() {
		if task.Type == taskType {
			out = append(out, task)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.tasks = nil
	r.mu.Unlock()
}

// Drain hands every recorded task to h in order and clears the recorder. Tasks
// enqueued while draining are left for the next call.
func (r *Recorder) Drain(ctx context.Context, h tasks.Handler) error {
	r.mu.Lock()
	pending := r.tasks
	r.tasks = nil
	r.mu.Unlock()
	for _, task := range pending {
		if err := h.Handle(ctx, task); err != nil {
			return err
		}
	}
	return nil
}
