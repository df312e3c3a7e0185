// Package hostcall implements the process-wide hostcall registry and
// dispatcher (spec.md §4.5): a (method-code, handler) map and a run-loop
// that drains the communication manager's inbox.
package hostcall

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgeworks-io/spearlet/internal/comm"
	"github.com/edgeworks-io/spearlet/internal/transport"
	"github.com/xeipuuv/gojsonschema"
)

// Handler is a hostcall implementation. It must be reentrant and must not
// hold locks across a host-to-guest round trip (spec.md §4.5).
type Handler func(ctx context.Context, info comm.InvocationInfo, args []byte) ([]byte, error)

// Registry is the process-wide method-code -> handler map. Registration
// rejects duplicates (spec.md §3 "Hostcall").
type Registry struct {
	mu       sync.RWMutex
	handlers map[transport.Method]Handler
	schemas  map[transport.Method]*gojsonschema.Schema
	closed   bool
}

// NewRegistry creates an empty hostcall registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[transport.Method]Handler),
		schemas:  make(map[transport.Method]*gojsonschema.Schema),
	}
}

// Register adds h for method. Returns an error if method is already
// registered.
func (r *Registry) Register(method transport.Method, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("hostcall: registry is closed")
	}
	if _, exists := r.handlers[method]; exists {
		return fmt.Errorf("hostcall: method %s already registered", method)
	}
	r.handlers[method] = h
	return nil
}

// RegisterWithSchema is Register plus a JSON Schema (as raw JSON text) that
// incoming argument bytes must satisfy before h is invoked. None of the
// built-in hostcalls registered by builtin.RegisterAll use it; they all go
// through Register and carry cbor payloads.
func (r *Registry) RegisterWithSchema(method transport.Method, schemaJSON string, h Handler) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("hostcall: compiling schema for %s: %w", method, err)
	}
	if err := r.Register(method, h); err != nil {
		return err
	}
	r.mu.Lock()
	r.schemas[method] = schema
	r.mu.Unlock()
	return nil
}

func (r *Registry) lookup(method transport.Method) (Handler, *gojsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, r.schemas[method], ok
}

// validateArgs runs JSON Schema validation when a schema is registered for
// method; hostcalls without one are unconstrained (raw/opaque payloads).
func validateArgs(schema *gojsonschema.Schema, args []byte) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("hostcall: validating args: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("hostcall: invalid arguments: %v", msgs)
	}
	return nil
}
