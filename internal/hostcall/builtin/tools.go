package builtin

import (
	"fmt"
	"sync"
)

// ToolHandler executes an invocation of one registered tool.
type ToolHandler func(args []byte) ([]byte, error)

// ToolRegistry is the MethodToolInvoke/MethodInternalToolCreate-backing
// registry: a read-mostly name -> handler map that starts empty and is
// filled at runtime via InternalToolCreate, grounded on
// the same collision-check discipline as the MCP server registry.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]ToolHandler
	closed bool
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolHandler)}
}

// Register adds a new tool. Returns an error if name is already registered.
func (r *ToolRegistry) Register(name string, h ToolHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("builtin: tool registry closed")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("builtin: tool %q already registered", name)
	}
	r.tools[name] = h
	return nil
}

// Invoke runs the named tool with args, returning its raw result bytes.
func (r *ToolRegistry) Invoke(name string, args []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("builtin: unknown tool %q", name)
	}
	return h(args)
}
