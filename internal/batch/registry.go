package batch

import (
	"context"
	"sync"
	"time"
)

// DefaultExpiry is how long a terminal task is retained (including its
// finalEvent, for late-subscriber replay) before the registry drops it.
const DefaultExpiry = 5 * time.Minute

// Registry owns every batch task submitted during the process's lifetime
// and lets handlers look tasks up by id for SSE subscription or status
// polling.
type Registry struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	expiry time.Duration
}

// NewRegistry returns an empty registry using DefaultExpiry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task), expiry: DefaultExpiry}
}

// expireTask removes id from the registry after delay, once the task has
// reached a terminal state. A single per-task timer, not a shared timer
// wheel: the idiomatic default for a handful of concurrently live tasks.
func (r *Registry) expireTask(id string, delay time.Duration) {
	if delay <= 0 {
		delay = DefaultExpiry
	}
	time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.tasks, id)
		r.mu.Unlock()
	})
}

// Submit creates a task for kind, starts a bounded worker pool over items
// in the background, and returns the task immediately so the caller can
// hand its id back to the client before processing finishes. buildResult,
// if non-nil, is called once after every item has drained (only on the
// success path) to assemble the terminal done event's result and optional
// warning; pass nil when a task has nothing to report beyond its counters.
func (r *Registry) Submit(parent context.Context, kind string, items []Item, concurrency int, process ProcessFunc, buildResult func() (map[string]interface{}, string)) *Task {
	ctx, cancel := context.WithCancel(parent)
	task := newTask(kind, len(items), cancel)

	r.mu.Lock()
	r.tasks[task.id] = task
	r.mu.Unlock()

	go func() {
		runBounded(ctx, task, items, concurrency, process)
		switch {
		case ctx.Err() != nil:
			task.FinishCancelled()
		default:
			snap := task.Snapshot()
			if snap.Fail > 0 && snap.OK == 0 && snap.Total > 0 {
				task.FailTask("all items failed")
			} else {
				var result map[string]interface{}
				var warning string
				if buildResult != nil {
					result, warning = buildResult()
				}
				task.Finish(result, warning)
			}
		}
		r.expireTask(task.id, r.expiry)
	}()

	return task
}

// Get looks up a task by id.
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// List returns a status snapshot of every known task.
func (r *Registry) List() []Event {
	r.mu.Lock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	out := make([]Event, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}
	return out
}
