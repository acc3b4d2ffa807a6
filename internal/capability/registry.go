// SPDX-License-Identifier: MPL-2.0

package capability

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrDuplicateCapability is returned when a name is registered twice.
var ErrDuplicateCapability = errors.New("capability already registered")

type (
	// Registration describes how to construct a capability.
	Registration struct {
		Name        string
		Description string
		// WantsContext marks constructors that use the ExecutionContext. Others
		// receive nil.
		WantsContext bool
		// New builds a fresh instance for one step.
		New func(ec *ExecutionContext) Capability
	}

	// Registry maps capability names to registrations. It is safe for
	// concurrent use and is passed explicitly to the executor.
	Registry struct {
		mu            sync.RWMutex
		registrations map[string]Registration
	}
)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{registrations: make(map[string]Registration)}
}

// Register adds a registration. Names are unique.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return errors.New("capability registration has no name")
	}
	if reg.New == nil {
		return fmt.Errorf("capability %q has no constructor", reg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.registrations[reg.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, reg.Name)
	}
	r.registrations[reg.Name] = reg
	return nil
}

// MustRegister is Register that panics on error, for wiring at startup.
func (r *Registry) MustRegister(regs ...Registration) {
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[name]
	return reg, ok
}

// Instantiate constructs a fresh capability. ec is passed only to
// registrations that declare WantsContext.
func (r *Registry) Instantiate(name string, ec *ExecutionContext) (Capability, error) {
	reg, ok := r.Lookup(name)
	if !ok {
		return nil, &UnknownCapabilityError{Name: name}
	}
	if !reg.WantsContext {
		ec = nil
	}
	c := reg.New(ec)
	if c == nil {
		return nil, fmt.Errorf("capability %q constructor returned nil", name)
	}
	return c, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.registrations))
}
