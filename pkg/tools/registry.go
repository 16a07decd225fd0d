package tools

import (
	"sync"

	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
)

// Registry is an ordered set of tools with unique names.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]types.Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]types.Tool),
	}
}

// Register adds a tool. An empty or already registered name is a
// configuration error.
func (r *Registry) Register(tool types.Tool) error {
	name := tool.Name()
	if name == "" {
		return &types.ConfigurationError{Reason: "tool has an empty name"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return &types.ConfigurationError{Tool: name, Reason: "duplicate tool name"}
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Resolve looks a tool up by name.
func (r *Registry) Resolve(name string) (types.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, &types.UnknownToolError{Name: name}
	}
	return tool, nil
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

// ExportAll returns every tool's descriptor in family's representation, in
// registration order.
func (r *Registry) ExportAll(family schema.Family) []schema.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]schema.Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descriptors = append(descriptors, types.Describe(r.tools[name], family))
	}
	return descriptors
}
