package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/model"
)

// Registry is the tool gateway: it owns a set of uniquely named tools and
// dispatches calls to them by exact name. Registration order is preserved so
// the definitions sent to the model are stable.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry with the given tools. It panics on duplicate
// names, which is a programming error at wiring time.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}

	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}

	return r
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}

	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())

	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]

	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

// Subset returns a new registry holding only the named tools, in the given order.
func (r *Registry) Subset(names ...string) (*Registry, error) {
	sub := &Registry{tools: make(map[string]Tool, len(names))}

	for _, name := range names {
		t, ok := r.Get(name)
		if !ok {
			return nil, NewToolError(name, "tool not registered", CodeNotFound)
		}

		if err := sub.Register(t); err != nil {
			return nil, err
		}
	}

	return sub, nil
}

// Definitions returns the model-facing declarations of all tools.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, model.NewToolDefinition(t.Name(), t.Description(), t.Parameters()))
	}

	return defs
}

// Invoke dispatches a tool call. Unknown names fail with NOT_FOUND; every
// other failure is returned as *ToolError. Invoke never retries.
func (r *Registry) Invoke(ctx context.Context, call core.ToolCall) (any, error) {
	t, ok := r.Get(call.Name)
	if !ok {
		return nil, NewToolError(call.Name, fmt.Sprintf("tool %s not found", call.Name), CodeNotFound)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	result, err := t.Call(ctx, args)
	if err != nil {
		return nil, WrapError(call.Name, err)
	}

	return result, nil
}
