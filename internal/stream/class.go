package stream

import (
	"context"
	"fmt"
	"sync"
)

// OperationHandler handles an Operation event for one function within a class.
type OperationHandler func(ctx context.Context, ch *Channel, opType OpType, data []byte, final bool) error

// NotificationHandler handles a Notification event.
type NotificationHandler func(ctx context.Context, ch *Channel, eventType NotificationType, data []byte, final bool) error

// RawHandler handles a RawData event.
type RawHandler func(ctx context.Context, ch *Channel, data []byte, final bool) error

// Functions groups the three handlers a class exposes under one function
// name within it (spec.md §3 "function name within class").
type Functions struct {
	Operation    OperationHandler
	Notification NotificationHandler
	Raw          RawHandler
}

// Class is a named, process-wide capability plug-in (spec.md §3 "Stream
// class / function").
type Class struct {
	Name      string
	Functions map[string]Functions
}

// ClassRegistry is the process-wide map of registered stream classes.
// Registration is idempotent per name and checked for collision (spec.md
// §3): registering the exact same *Class value again is a no-op; a second,
// different registration under the same name is rejected.
type ClassRegistry struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassRegistry creates an empty class registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{classes: make(map[string]*Class)}
}

// Register adds class to the registry.
func (r *ClassRegistry) Register(class *Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.classes[class.Name]; ok {
		if existing == class {
			return nil
		}
		return fmt.Errorf("stream: class %q already registered", class.Name)
	}
	r.classes[class.Name] = class
	return nil
}

// Lookup returns the class registered under name, if any.
func (r *ClassRegistry) Lookup(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}
