package stressor

import (
	"fmt"
	"sort"
	"sync"
)

// RegistrationError represents an error during workload registration.
type RegistrationError struct {
	Workload string
	Message  string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration failed for workload %q: %s", e.Workload, e.Message)
}

// NewRegistrationError creates a new registration error.
func NewRegistrationError(workload, message string) *RegistrationError {
	return &RegistrationError{
		Workload: workload,
		Message:  message,
	}
}

// Registry manages the compiled-in workload table.
type Registry struct {
	descriptors map[string]*Descriptor
	mu          sync.RWMutex
}

// NewRegistry creates a new workload registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
	}
}

// Register adds a workload to the registry.
// Returns an error if a workload with the same name is already registered.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return NewRegistrationError("", "descriptor cannot be nil")
	}
	if d.Name == "" {
		return NewRegistrationError("", "workload name cannot be empty")
	}
	if d.Run == nil {
		return NewRegistrationError(d.Name, "workload run function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		return NewRegistrationError(d.Name, "workload already registered")
	}

	r.descriptors[d.Name] = d
	return nil
}

// MustRegister adds a workload to the registry, panicking on error.
// This is intended for use in init() functions.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get retrieves a workload by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.descriptors[name]
	return d, exists
}

// Names returns a sorted list of all registered workload names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered workloads.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// DefaultRegistry is the global registry populated by the workload
// packages at program initialization.
var DefaultRegistry = NewRegistry()

// Register adds a workload to the default registry.
func Register(d *Descriptor) error {
	return DefaultRegistry.Register(d)
}

// MustRegister adds a workload to the default registry, panicking on error.
func MustRegister(d *Descriptor) {
	DefaultRegistry.MustRegister(d)
}

// Get retrieves a workload from the default registry.
func Get(name string) (*Descriptor, bool) {
	return DefaultRegistry.Get(name)
}

// Names returns all workload names from the default registry.
func Names() []string {
	return DefaultRegistry.Names()
}
