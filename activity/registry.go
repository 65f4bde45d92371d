package activity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotRegistered is returned for tasks of an unknown activity type.
var ErrNotRegistered = errors.New("activity not registered")

// maxNameLength is the longest activity type name the workflow service accepts.
const maxNameLength = 256

// Registration pairs an activity with the metadata it was registered under.
type Registration struct {
	Activity Activity
	Info     Info
}

// Registry maps activity type names to their implementations. It is safe for
// concurrent use; workers look activities up while pollers run.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Registration{}}
}

// validName rejects names the workflow service would refuse as a type name.
func validName(name string) error {
	switch {
	case name == "":
		return errors.New("activity name is empty")
	case len(name) > maxNameLength:
		return fmt.Errorf("activity name %.32q... exceeds %d characters", name, maxNameLength)
	case strings.ContainsAny(name, ":/|") || strings.Contains(name, "arn"):
		return fmt.Errorf("activity name %q contains a reserved sequence", name)
	}
	return nil
}

// Register binds act to name. Each name registers once; a zero timeout
// becomes DefaultTimeout.
func (r *Registry) Register(name string, act Activity, info Info) error {
	if err := validName(name); err != nil {
		return err
	}
	if act == nil {
		return fmt.Errorf("activity %s has no implementation", name)
	}
	info.Name = name
	if info.Timeout <= 0 {
		info.Timeout = DefaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, dup := r.byName[name]; dup {
		return fmt.Errorf("activity %s already registered (%s)", name, prev.Info.Description)
	}
	r.byName[name] = Registration{Activity: act, Info: info}
	return nil
}

// Get resolves the activity of a task type.
func (r *Registry) Get(name string) (*Registration, error) {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("activity %s: %w", name, ErrNotRegistered)
	}
	return &reg, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
