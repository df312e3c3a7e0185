// Package runtime hosts the process-wide task registry (spec.md §4.3).
package runtime

import (
	"fmt"
	"sync"

	"github.com/edgeworks-io/spearlet/internal/logger"
	"github.com/edgeworks-io/spearlet/internal/runtime/task"
)

var log = logger.For("runtime.registry")

// Registry is the process-wide map from task ID to owned *task.Task. It is
// the task's sole owner: nothing outside the registry holds a task
// reference past teardown.
type Registry struct {
	mu    sync.RWMutex
	tasks map[int64]*task.Task

	// teardownHooks run once per task registration, invoked on finish in
	// registration order (cmd/spearlet uses this to tear down each task's
	// FD table and stream multiplexer, per spec.md §4.3).
	teardownHooks []func(*task.Task)
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[int64]*task.Task)}
}

// OnTaskFinish registers a hook invoked (with the task) whenever any
// registered task reaches Stopped. Hooks are invoked in the order
// registered, for every task registered after the hook was added (Register
// copies the hook list at that point), so the FD table and stream
// multiplexer can both hang their own cleanup off a single registry without
// the registry knowing about either.
func (r *Registry) OnTaskFinish(hook func(*task.Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownHooks = append(r.teardownHooks, hook)
}

// Register adds t to the registry and wires its finish callback to run the
// registry's teardown hooks and then remove t from the map.
func (r *Registry) Register(t *task.Task) error {
	r.mu.Lock()
	if _, exists := r.tasks[t.Config.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("runtime: task id %d already registered", t.Config.ID)
	}
	r.tasks[t.Config.ID] = t
	hooks := append([]func(*task.Task){}, r.teardownHooks...)
	r.mu.Unlock()

	t.RegisterOnFinish(func(exitErr error) {
		for _, hook := range hooks {
			hook(t)
		}
		r.mu.Lock()
		delete(r.tasks, t.Config.ID)
		r.mu.Unlock()
		log.Info("task finished", "task_id", t.Config.ID, "name", t.Config.Name, "exit_err", exitErr)
	})
	return nil
}

// Get returns the task for id, if registered.
func (r *Registry) Get(id int64) (*task.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// List returns a snapshot of all currently registered tasks.
func (r *Registry) List() []*task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

// Shutdown iterates every registered task and invokes Stop, logging
// failures but continuing through the rest (spec.md §4.3 "On teardown,
// iterates every task and invokes its Stop, logging failures but
// continuing").
func (r *Registry) Shutdown() {
	for _, t := range r.List() {
		if err := t.Stop(); err != nil {
			log.Error("task stop failed during shutdown", "task_id", t.Config.ID, "error", err)
		}
	}
}
