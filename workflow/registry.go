package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// Definition binds a flow type name to its body.
type Definition struct {
	Name        string
	Description string
	Flow        FlowFunc
}

// Registry maps flow type names to definitions. It is populated at startup
// and looked up by the dispatcher on every round.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		flows: make(map[string]*Definition),
	}
}

// Register adds a flow definition.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def == nil || def.Name == "" {
		return fmt.Errorf("flow name cannot be empty")
	}
	if def.Flow == nil {
		return fmt.Errorf("flow %s has no body", def.Name)
	}
	if _, exists := r.flows[def.Name]; exists {
		return fmt.Errorf("flow %s already registered", def.Name)
	}

	r.flows[def.Name] = def
	return nil
}

// RegisterFunc registers fn under name.
func (r *Registry) RegisterFunc(name string, fn FlowFunc) error {
	return r.Register(&Definition{Name: name, Flow: fn})
}

// Get retrieves the definition of a flow type.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.flows[name]
	if !exists {
		return nil, fmt.Errorf("flow %q: %w", name, ErrUnregisteredFlow)
	}
	return def, nil
}

// List returns all registered flow type names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
