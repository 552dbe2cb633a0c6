// Package tools maps tool names to handlers with declarative parameter
// schemas and executes them on behalf of the agent loop.
package tools

import (
	"context"
	"fmt"
	"sync"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Handler runs a tool. Arguments in req have already been validated against
// the tool's schema. The returned value is sent to the model verbatim when it
// is a string and JSON-encoded otherwise.
type Handler func(ctx context.Context, sessionKey string, req mcptypes.CallToolRequest) (any, error)

// Tool pairs a schema with its handler.
type Tool struct {
	Definition mcptypes.Tool
	Handler    Handler
}

// Registry holds the declared tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	name := tool.Definition.Name
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool schemas in registration order.
func (r *Registry) Definitions() []mcptypes.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]mcptypes.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
